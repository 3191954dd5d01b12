package subscription

import (
	"context"
	"sort"
	"sync"

	xerrors "PayRoute/internal/errors"
)

// MemoryStore 将订阅保存在内存中，id 单调递增，主要用于测试与单机部署。
type MemoryStore struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// NewMemoryStore 创建一个空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		subs:   make(map[uint64]*Subscription),
	}
}

// Create 分配新 id 并保存订阅。
func (s *MemoryStore) Create(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "subscription 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneSubscription(sub)
	stored.ID = s.nextID
	s.nextID++
	s.subs[stored.ID] = stored
	return cloneSubscription(stored), nil
}

// Get 按 id 查询订阅。
func (s *MemoryStore) Get(ctx context.Context, id uint64) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

// Update 持久化已存在订阅的最新状态。
func (s *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "subscription 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	s.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

// List 按过滤条件返回订阅。
func (s *MemoryStore) List(ctx context.Context, opts ...ListOption) ([]*Subscription, error) {
	options := buildListOptions(opts)

	s.mu.RLock()
	matched := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if !matchesOptions(sub, options) {
			continue
		}
		matched = append(matched, cloneSubscription(sub))
	}
	s.mu.RUnlock()

	switch options.Order {
	case SortByCreatedDesc:
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].CreatedAt != matched[j].CreatedAt {
				return matched[i].CreatedAt > matched[j].CreatedAt
			}
			return matched[i].ID > matched[j].ID
		})
	default:
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].NextExecutionTime != matched[j].NextExecutionTime {
				return matched[i].NextExecutionTime < matched[j].NextExecutionTime
			}
			return matched[i].ID < matched[j].ID
		})
	}

	if options.Offset >= len(matched) {
		return []*Subscription{}, nil
	}
	matched = matched[options.Offset:]
	if len(matched) > options.Limit {
		matched = matched[:options.Limit]
	}
	return matched, nil
}

// ListDue 返回在 now 时刻到期的活跃订阅，按到期时间升序。
func (s *MemoryStore) ListDue(ctx context.Context, now int64, limit int) ([]*Subscription, error) {
	return s.List(ctx,
		WithStatuses(StatusActive),
		WithDueBefore(now),
		WithLimit(limit),
		WithSortOrder(SortByNextExecutionAsc),
	)
}

// Close 释放内存存储。
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.subs = make(map[uint64]*Subscription)
	s.mu.Unlock()
	return nil
}

func matchesOptions(sub *Subscription, options ListOptions) bool {
	if options.Payer != "" && sub.Payer != options.Payer {
		return false
	}
	if options.Recipient != "" && sub.Recipient != options.Recipient {
		return false
	}
	if len(options.Statuses) > 0 {
		found := false
		for _, status := range options.Statuses {
			if sub.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if options.DueBefore > 0 && sub.NextExecutionTime > options.DueBefore {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
