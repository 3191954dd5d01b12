package subscription

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"PayRoute/internal/clock"
	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/keylock"
	"PayRoute/internal/ledger"
	"PayRoute/pkg/logger"
)

// Receipt 是一次订阅执行成功后的凭证。Tip 为执行人实际获得的激励。
type Receipt struct {
	ID                string         `json:"id"`
	SubscriptionID    uint64         `json:"subscription_id"`
	Executor          ledger.Account `json:"executor"`
	Amount            int64          `json:"amount"`
	Tip               int64          `json:"tip"`
	ExecutionCount    int64          `json:"execution_count"`
	NextExecutionTime int64          `json:"next_execution_time"`
	ExecutedAt        int64          `json:"executed_at"`
}

// Scheduler 管理周期性付款的创建与执行。同一订阅的操作按 id 互斥，
// 保证每个到期槽位至多一次成功执行。
type Scheduler struct {
	store  Store
	ledger ledger.Ledger
	clock  clock.Clock
	locks  *keylock.KeyLock
	log    *slog.Logger
}

// SchedulerOption 配置 Scheduler 的可选行为。
type SchedulerOption func(*Scheduler)

// WithClock 替换调度器的时间源，主要用于测试。
func WithClock(c clock.Clock) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewScheduler 创建订阅调度器。
func NewScheduler(store Store, l ledger.Ledger, opts ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "subscription store 不能为空")
	}
	if l == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ledger 不能为空")
	}

	scheduler := &Scheduler{
		store:  store,
		ledger: l,
		clock:  clock.System{},
		locks:  keylock.New(),
		log:    logger.Named("subscription"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	return scheduler, nil
}

// Create 创建订阅。创建时不转账，startTime 为 0 表示立刻到期。
func (s *Scheduler) Create(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, xerrors.New(CodeValidation, "subscription 不能为空")
	}
	if sub.Payer == "" || sub.Recipient == "" {
		return nil, xerrors.New(CodeValidation, "payer 和 recipient 不能为空")
	}
	if sub.Payer == sub.Recipient {
		return nil, xerrors.New(CodeValidation, "payer 和 recipient 不能是同一账户")
	}
	if sub.Amount <= 0 {
		return nil, xerrors.New(CodeValidation, "amount 必须大于 0")
	}
	if sub.Interval <= 0 {
		return nil, xerrors.New(CodeValidation, "interval 必须大于 0")
	}
	if sub.TipBps < 0 || sub.TipBps > 10000 {
		return nil, xerrors.New(CodeValidation, "tipBps 必须在 [0, 10000] 区间内")
	}
	if sub.MaxExecutions < 0 {
		return nil, xerrors.New(CodeValidation, "maxExecutions 不能为负数")
	}

	now := s.clock.Now().Unix()
	stored := cloneSubscription(sub)
	stored.ID = 0
	stored.ExecutionCount = 0
	stored.Status = StatusActive
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.NextExecutionTime == 0 {
		stored.NextExecutionTime = now
	}

	created, err := s.store.Create(ctx, stored)
	if err != nil {
		return nil, err
	}

	s.log.Info("订阅已创建",
		slog.Uint64("subscription_id", created.ID),
		slog.String("payer", string(created.Payer)),
		slog.String("recipient", string(created.Recipient)),
		slog.Int64("amount", created.Amount),
		slog.Int64("interval", created.Interval),
	)
	logger.Audit().Info("subscription.create",
		slog.Uint64("subscription_id", created.ID),
		slog.String("payer", string(created.Payer)),
		slog.String("recipient", string(created.Recipient)),
	)
	return created, nil
}

// Execute 执行一次到期订阅，任何账户都可以充当执行人。
// 本金先于小费转账；小费失败不回滚本金，但节奏照常前移。
func (s *Scheduler) Execute(ctx context.Context, id uint64, executor ledger.Account) (*Receipt, error) {
	if executor == "" {
		return nil, xerrors.New(CodeValidation, "executor 不能为空")
	}

	unlock := s.locks.Lock(subscriptionLockKey(id))
	defer unlock()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		return nil, ErrSubscriptionInactive
	}

	now := s.clock.Now().Unix()
	if now < sub.NextExecutionTime {
		return nil, ErrNotDue
	}

	// 小费向零截断，执行人身份不限。
	tip := sub.Amount * sub.TipBps / 10000

	if err := s.ledger.Transfer(ctx, sub.Payer, sub.Recipient, sub.Amount, ledger.KindSub); err != nil {
		s.log.Warn("订阅本金转账失败",
			slog.Uint64("subscription_id", id),
			slog.String("payer", string(sub.Payer)),
			slog.Int64("amount", sub.Amount),
			slog.String("error", err.Error()),
		)
		return nil, xerrors.Wrap(CodeTransferFailed, err, "订阅本金转账失败")
	}

	var tipErr error
	if tip > 0 {
		if err := s.ledger.Transfer(ctx, sub.Payer, executor, tip, ledger.KindTip); err != nil {
			// 本金已经到账，节奏照常前移，小费损失只通知执行人。
			tipErr = xerrors.Wrap(CodeTipTransferFailed, err, "小费转账失败")
			tip = 0
		}
	}

	sub.ExecutionCount++
	sub.NextExecutionTime += sub.Interval
	sub.UpdatedAt = now
	if sub.MaxExecutions > 0 && sub.ExecutionCount >= sub.MaxExecutions {
		sub.Status = StatusExhausted
	}
	if err := s.store.Update(ctx, sub); err != nil {
		// 转账已经提交，记账失败必须告警，由运维对账修复。
		s.log.Error("转账已提交但订阅状态持久化失败",
			slog.Uint64("subscription_id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	receipt := &Receipt{
		ID:                uuid.NewString(),
		SubscriptionID:    id,
		Executor:          executor,
		Amount:            sub.Amount,
		Tip:               tip,
		ExecutionCount:    sub.ExecutionCount,
		NextExecutionTime: sub.NextExecutionTime,
		ExecutedAt:        now,
	}
	logger.Audit().Info("subscription.execute",
		slog.String("receipt_id", receipt.ID),
		slog.Uint64("subscription_id", id),
		slog.String("executor", string(executor)),
		slog.Int64("amount", sub.Amount),
		slog.Int64("tip", tip),
		slog.Int64("execution_count", sub.ExecutionCount),
	)
	if tipErr != nil {
		return receipt, tipErr
	}
	return receipt, nil
}

// Pause 由付款人暂停活跃订阅。
func (s *Scheduler) Pause(ctx context.Context, caller ledger.Account, id uint64) error {
	return s.transition(ctx, caller, id, func(sub *Subscription) error {
		switch sub.Status {
		case StatusActive:
			sub.Status = StatusPaused
			return nil
		case StatusPaused:
			return nil
		default:
			return ErrSubscriptionTerminal
		}
	})
}

// Resume 由付款人恢复暂停中的订阅。终态订阅不可恢复。
func (s *Scheduler) Resume(ctx context.Context, caller ledger.Account, id uint64) error {
	return s.transition(ctx, caller, id, func(sub *Subscription) error {
		switch sub.Status {
		case StatusPaused:
			sub.Status = StatusActive
			return nil
		case StatusActive:
			return nil
		default:
			return ErrSubscriptionTerminal
		}
	})
}

// Cancel 由付款人永久取消订阅。
func (s *Scheduler) Cancel(ctx context.Context, caller ledger.Account, id uint64) error {
	return s.transition(ctx, caller, id, func(sub *Subscription) error {
		switch sub.Status {
		case StatusActive, StatusPaused:
			sub.Status = StatusCancelled
			return nil
		case StatusCancelled:
			return nil
		default:
			return ErrSubscriptionTerminal
		}
	})
}

func (s *Scheduler) transition(ctx context.Context, caller ledger.Account, id uint64, mutate func(*Subscription) error) error {
	unlock := s.locks.Lock(subscriptionLockKey(id))
	defer unlock()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if caller != sub.Payer {
		return ErrNotPayer
	}

	before := sub.Status
	if err := mutate(sub); err != nil {
		return err
	}
	if sub.Status == before {
		return nil
	}

	sub.UpdatedAt = s.clock.Now().Unix()
	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}
	logger.Audit().Info("subscription.transition",
		slog.Uint64("subscription_id", id),
		slog.String("from", string(before)),
		slog.String("to", string(sub.Status)),
	)
	return nil
}

// Get 返回订阅的当前快照。
func (s *Scheduler) Get(ctx context.Context, id uint64) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// List 按过滤条件返回订阅。
func (s *Scheduler) List(ctx context.Context, opts ...ListOption) ([]*Subscription, error) {
	return s.store.List(ctx, opts...)
}

// ListDue 返回当前到期的活跃订阅，供 keeper 扫描。
func (s *Scheduler) ListDue(ctx context.Context, limit int) ([]*Subscription, error) {
	return s.store.ListDue(ctx, s.clock.Now().Unix(), limit)
}

func subscriptionLockKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
