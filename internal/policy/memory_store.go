package policy

import (
	"context"
	"sort"
	"sync"

	xerrors "PayRoute/internal/errors"
)

// MemoryStore 以内存方式保存策略，主要用于测试和本地开发。
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[policyKey]*SpendingPolicy
}

type policyKey struct {
	owner string
	agent string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[policyKey]*SpendingPolicy)}
}

// Put 实现 Store 接口。
func (m *MemoryStore) Put(_ context.Context, p *SpendingPolicy) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "policy 不能为空")
	}
	if p.Owner == "" || p.Agent == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "owner 和 agent 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policyKey{owner: string(p.Owner), agent: string(p.Agent)}] = clonePolicy(p)
	return nil
}

// Get 返回策略快照。
func (m *MemoryStore) Get(_ context.Context, owner, agent string) (*SpendingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[policyKey{owner: owner, agent: agent}]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return clonePolicy(p), nil
}

// Update 持久化已存在策略的最新状态。
func (m *MemoryStore) Update(_ context.Context, p *SpendingPolicy) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "policy 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := policyKey{owner: string(p.Owner), agent: string(p.Agent)}
	if _, ok := m.policies[key]; !ok {
		return ErrPolicyNotFound
	}
	m.policies[key] = clonePolicy(p)
	return nil
}

// ListByOwner 返回 owner 名下的策略，按 agent 排序保证输出稳定。
func (m *MemoryStore) ListByOwner(_ context.Context, owner string) ([]*SpendingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*SpendingPolicy, 0, 4)
	for key, p := range m.policies {
		if key.owner != owner {
			continue
		}
		results = append(results, clonePolicy(p))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Agent < results[j].Agent
	})
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
