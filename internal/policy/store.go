package policy

import "context"

// Store 抽象策略的持久化。实现必须并发安全；
// 跨操作的串行化由 Engine 的按键互斥保证，Store 只负责原样存取。
type Store interface {
	// Put 创建或整体覆盖 (owner, agent) 对应的策略。
	Put(ctx context.Context, p *SpendingPolicy) error
	// Get 返回策略快照，不存在时返回 ErrPolicyNotFound。
	Get(ctx context.Context, owner, agent string) (*SpendingPolicy, error)
	// Update 持久化执行或撤销后的策略状态，不存在时返回 ErrPolicyNotFound。
	Update(ctx context.Context, p *SpendingPolicy) error
	// ListByOwner 返回 owner 名下的全部策略。
	ListByOwner(ctx context.Context, owner string) ([]*SpendingPolicy, error)
	Close() error
}
