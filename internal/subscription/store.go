package subscription

import "context"

// Store 抽象订阅的持久化。并发控制由 Scheduler 按订阅 id 加锁完成，
// 存储实现只需要保证单个方法各自原子。
type Store interface {
	Create(ctx context.Context, s *Subscription) (*Subscription, error)
	Get(ctx context.Context, id uint64) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	List(ctx context.Context, opts ...ListOption) ([]*Subscription, error)
	ListDue(ctx context.Context, now int64, limit int) ([]*Subscription, error)
	Close() error
}
