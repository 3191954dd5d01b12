package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"PayRoute/internal/clock"
	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/keylock"
	"PayRoute/internal/ledger"
	"PayRoute/pkg/logger"
)

// Receipt 是一次代理支付成功后的执行凭证。
type Receipt struct {
	ID         string         `json:"id"`
	Owner      ledger.Account `json:"owner"`
	Agent      ledger.Account `json:"agent"`
	Recipient  ledger.Account `json:"recipient"`
	Amount     int64          `json:"amount"`
	DailySpent int64          `json:"daily_spent"`
	ExecutedAt int64          `json:"executed_at"`
}

// Engine 执行授权策略下的代理支付。所有触碰同一 (owner, agent) 策略的
// 操作在引擎内部按键互斥，不同策略互不阻塞；存储层只承担读写。
type Engine struct {
	store  Store
	ledger ledger.Ledger
	clock  clock.Clock
	locks  *keylock.KeyLock
	tiers  *TierLimits
	log    *slog.Logger
}

// EngineOption 配置 Engine 的可选行为。
type EngineOption func(*Engine)

// WithClock 替换引擎的时间源，主要用于测试。
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithTierLimits 启用按身份等级封顶策略限额。
func WithTierLimits(t *TierLimits) EngineOption {
	return func(e *Engine) {
		e.tiers = t
	}
}

// NewEngine 创建策略引擎。
func NewEngine(store Store, l ledger.Ledger, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "policy store 不能为空")
	}
	if l == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ledger 不能为空")
	}

	engine := &Engine{
		store:  store,
		ledger: l,
		clock:  clock.System{},
		locks:  keylock.New(),
		log:    logger.Named("policy"),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// CreatePolicy 创建或整体覆盖 (owner, agent) 的策略。覆盖会清零消费窗口，
// 这是重置策略的唯一方式。tier 小于 0 表示调用方未启用身份等级封顶。
func (e *Engine) CreatePolicy(ctx context.Context, p *SpendingPolicy, tier int) (*SpendingPolicy, error) {
	if p == nil {
		return nil, xerrors.New(CodeValidation, "policy 不能为空")
	}
	if p.Owner == "" || p.Agent == "" {
		return nil, xerrors.New(CodeValidation, "owner 和 agent 不能为空")
	}
	if p.Owner == p.Agent {
		return nil, xerrors.New(CodeValidation, "owner 和 agent 不能是同一账户")
	}
	if p.MaxPerTx <= 0 {
		return nil, xerrors.New(CodeValidation, "maxPerTx 必须大于 0")
	}
	if p.MaxDaily < p.MaxPerTx {
		return nil, xerrors.New(CodeValidation, "maxDaily 不能小于 maxPerTx")
	}

	now := e.clock.Now().Unix()
	if p.ExpiresAt != 0 && p.ExpiresAt <= now {
		return nil, xerrors.New(CodeValidation, "expiresAt 必须晚于当前时间")
	}

	stored := clonePolicy(p)
	stored.AllowedRecipients = normalizeRecipients(p.AllowedRecipients)
	stored.DailySpent = 0
	stored.WindowStart = now
	stored.CreatedAt = now
	stored.Active = true
	if e.tiers != nil && tier >= 0 {
		stored.MaxPerTx, stored.MaxDaily = e.tiers.Clamp(tier, stored.MaxPerTx, stored.MaxDaily)
	}

	unlock := e.locks.Lock(policyLockKey(stored.Owner, stored.Agent))
	defer unlock()

	if err := e.store.Put(ctx, stored); err != nil {
		return nil, err
	}

	e.log.Info("策略已创建",
		slog.String("owner", string(stored.Owner)),
		slog.String("agent", string(stored.Agent)),
		slog.Int64("max_per_tx", stored.MaxPerTx),
		slog.Int64("max_daily", stored.MaxDaily),
	)
	logger.Audit().Info("policy.create",
		slog.String("owner", string(stored.Owner)),
		slog.String("agent", string(stored.Agent)),
	)
	return clonePolicy(stored), nil
}

// ExecutePayment 以 agent 身份从 owner 账户向 recipient 支付 amount。
// 校验、窗口滚动、转账与记账在同一把键锁内完成，失败时不产生任何状态变更。
func (e *Engine) ExecutePayment(ctx context.Context, owner, agent, recipient ledger.Account, amount int64) (*Receipt, error) {
	if owner == "" || agent == "" || recipient == "" {
		return nil, xerrors.New(CodeValidation, "owner、agent、recipient 不能为空")
	}
	if amount <= 0 {
		return nil, xerrors.New(CodeValidation, "amount 必须大于 0")
	}

	unlock := e.locks.Lock(policyLockKey(owner, agent))
	defer unlock()

	p, err := e.store.Get(ctx, string(owner), string(agent))
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrPolicyInactive
	}

	now := e.clock.Now().Unix()
	if p.ExpiresAt != 0 && now > p.ExpiresAt {
		return nil, ErrPolicyExpired
	}

	// 懒滚动：每次执行时重新判定窗口，不依赖后台定时器。
	if now-p.WindowStart >= windowSeconds {
		p.DailySpent = 0
		p.WindowStart = now
	}

	if !p.RecipientAllowed(recipient) {
		return nil, ErrRecipientNotAllowed
	}
	if amount > p.MaxPerTx {
		return nil, ErrPerTxLimitExceeded
	}
	if p.DailySpent+amount > p.MaxDaily {
		return nil, ErrDailyLimitExceeded
	}

	if err := e.ledger.Transfer(ctx, owner, recipient, amount, ledger.KindAgent); err != nil {
		e.log.Warn("代理支付转账失败",
			slog.String("owner", string(owner)),
			slog.String("agent", string(agent)),
			slog.String("recipient", string(recipient)),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return nil, xerrors.Wrap(CodeTransferFailed, err, "账本转账失败")
	}

	p.DailySpent += amount
	if err := e.store.Update(ctx, p); err != nil {
		// 转账已经提交，记账失败必须告警，由运维对账修复。
		e.log.Error("转账已提交但策略状态持久化失败",
			slog.String("owner", string(owner)),
			slog.String("agent", string(agent)),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	receipt := &Receipt{
		ID:         uuid.NewString(),
		Owner:      owner,
		Agent:      agent,
		Recipient:  recipient,
		Amount:     amount,
		DailySpent: p.DailySpent,
		ExecutedAt: now,
	}
	logger.Audit().Info("policy.execute",
		slog.String("receipt_id", receipt.ID),
		slog.String("owner", string(owner)),
		slog.String("agent", string(agent)),
		slog.String("recipient", string(recipient)),
		slog.Int64("amount", amount),
		slog.Int64("daily_spent", p.DailySpent),
	)
	return receipt, nil
}

// RevokePolicy 由 owner 撤销策略，撤销后不可恢复。
func (e *Engine) RevokePolicy(ctx context.Context, caller, owner, agent ledger.Account) error {
	if owner == "" || agent == "" {
		return xerrors.New(CodeValidation, "owner 和 agent 不能为空")
	}

	unlock := e.locks.Lock(policyLockKey(owner, agent))
	defer unlock()

	p, err := e.store.Get(ctx, string(owner), string(agent))
	if err != nil {
		return err
	}
	if caller != p.Owner {
		return ErrNotOwner
	}
	if !p.Active {
		return nil
	}

	p.Active = false
	if err := e.store.Update(ctx, p); err != nil {
		return err
	}

	e.log.Info("策略已撤销",
		slog.String("owner", string(owner)),
		slog.String("agent", string(agent)),
	)
	logger.Audit().Info("policy.revoke",
		slog.String("owner", string(owner)),
		slog.String("agent", string(agent)),
	)
	return nil
}

// GetPolicy 返回策略的当前快照，窗口按当前时间投影后返回。
func (e *Engine) GetPolicy(ctx context.Context, owner, agent ledger.Account) (*SpendingPolicy, error) {
	p, err := e.store.Get(ctx, string(owner), string(agent))
	if err != nil {
		return nil, err
	}
	projectWindow(p, e.clock.Now().Unix())
	return p, nil
}

// ListByOwner 返回 owner 名下的全部策略快照。
func (e *Engine) ListByOwner(ctx context.Context, owner ledger.Account) ([]*SpendingPolicy, error) {
	policies, err := e.store.ListByOwner(ctx, string(owner))
	if err != nil {
		return nil, err
	}
	now := e.clock.Now().Unix()
	for _, p := range policies {
		projectWindow(p, now)
	}
	return policies, nil
}

// projectWindow 对只读快照做窗口投影，已滚动的窗口不应再显示旧的消费额。
func projectWindow(p *SpendingPolicy, now int64) {
	if now-p.WindowStart >= windowSeconds {
		p.DailySpent = 0
		p.WindowStart = now
	}
}

func policyLockKey(owner, agent ledger.Account) string {
	return fmt.Sprintf("%s/%s", owner, agent)
}

func normalizeRecipients(recipients []ledger.Account) []ledger.Account {
	if len(recipients) == 0 {
		return nil
	}
	seen := make(map[ledger.Account]struct{}, len(recipients))
	normalized := make([]ledger.Account, 0, len(recipients))
	for _, r := range recipients {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		normalized = append(normalized, r)
	}
	if len(normalized) == 0 {
		return nil
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i] < normalized[j] })
	return normalized
}
