package vault

import (
	"context"
	"log/slog"
	"sync"

	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/ledger"
	"PayRoute/pkg/logger"
)

var (
	// ErrInsufficientPosition 表示取出金额超过用户在金库中的份额。
	ErrInsufficientPosition = xerrors.New(CodeInsufficientPosition, "insufficient vault position", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTransferFailed 表示账本拒绝了金库转账。
	ErrTransferFailed = xerrors.New(CodeTransferFailed, "vault transfer failed", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeInsufficientPosition xerrors.Code = "VAULT_INSUFFICIENT_POSITION"
	CodeTransferFailed       xerrors.Code = "VAULT_TRANSFER_FAILED"
	CodeValidation           xerrors.Code = "VAULT_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodeInsufficientPosition, xerrors.Attributes{
		Message:   "insufficient vault position",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTransferFailed, xerrors.Attributes{
		Message:   "vault transfer failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:   "vault validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Position 描述用户在金库中的份额。
type Position struct {
	User    ledger.Account `json:"user"`
	Balance int64          `json:"balance"`
}

// Vault 管理一个池化的资金账户，按用户记录份额。份额 1:1 对应存入金额。
type Vault struct {
	mu        sync.Mutex
	ledger    ledger.Ledger
	pool      ledger.Account
	positions map[ledger.Account]int64
	log       *slog.Logger
}

// NewVault 创建金库。pool 是持有全部存款的池化账户。
func NewVault(l ledger.Ledger, pool ledger.Account) (*Vault, error) {
	if l == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ledger 不能为空")
	}
	if pool == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "金库账户不能为空")
	}
	return &Vault{
		ledger:    l,
		pool:      pool,
		positions: make(map[ledger.Account]int64),
		log:       logger.Named("vault"),
	}, nil
}

// Deposit 将资金从用户账户转入金库并记录份额。
func (v *Vault) Deposit(ctx context.Context, user ledger.Account, amount int64) (*Position, error) {
	if user == "" {
		return nil, xerrors.New(CodeValidation, "user 不能为空")
	}
	if amount <= 0 {
		return nil, xerrors.New(CodeValidation, "amount 必须大于 0")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ledger.Transfer(ctx, user, v.pool, amount, ledger.KindDeposit); err != nil {
		return nil, xerrors.Wrap(CodeTransferFailed, err, "存款转账失败")
	}
	v.positions[user] += amount

	logger.Audit().Info("vault.deposit",
		slog.String("user", string(user)),
		slog.Int64("amount", amount),
		slog.Int64("balance", v.positions[user]),
	)
	return &Position{User: user, Balance: v.positions[user]}, nil
}

// Withdraw 按份额取出资金。取出金额超过份额时拒绝且不触碰账本。
func (v *Vault) Withdraw(ctx context.Context, user ledger.Account, amount int64) (*Position, error) {
	if user == "" {
		return nil, xerrors.New(CodeValidation, "user 不能为空")
	}
	if amount <= 0 {
		return nil, xerrors.New(CodeValidation, "amount 必须大于 0")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.positions[user] < amount {
		return nil, ErrInsufficientPosition
	}
	if err := v.ledger.Transfer(ctx, v.pool, user, amount, ledger.KindWithdraw); err != nil {
		return nil, xerrors.Wrap(CodeTransferFailed, err, "取款转账失败")
	}
	v.positions[user] -= amount

	logger.Audit().Info("vault.withdraw",
		slog.String("user", string(user)),
		slog.Int64("amount", amount),
		slog.Int64("balance", v.positions[user]),
	)
	return &Position{User: user, Balance: v.positions[user]}, nil
}

// PositionOf 返回用户当前份额。
func (v *Vault) PositionOf(user ledger.Account) Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Position{User: user, Balance: v.positions[user]}
}

// TVL 返回金库锁定的总金额。
func (v *Vault) TVL() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var total int64
	for _, balance := range v.positions {
		total += balance
	}
	return total
}
