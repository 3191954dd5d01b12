package ledger

import (
	"context"

	xerrors "PayRoute/internal/errors"
)

// Account 表示账本上的账户地址。
type Account string

// Kind 标记一次转账的业务类型，供看板统计使用。
type Kind string

const (
	KindPayment  Kind = "payment"
	KindFee      Kind = "fee"
	KindAgent    Kind = "agent"
	KindSub      Kind = "subscription"
	KindTip      Kind = "tip"
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

var (
	// ErrInsufficientFunds 表示付款方余额不足。
	ErrInsufficientFunds = xerrors.New(CodeInsufficientFunds, "insufficient funds")
)

const (
	CodeInsufficientFunds xerrors.Code = "LEDGER_INSUFFICIENT_FUNDS"
)

func init() {
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{
		Message:   "insufficient funds",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// TransferRecord 是账本中一条不可变的执行历史。
type TransferRecord struct {
	ID        string  `json:"id"`
	From      Account `json:"from"`
	To        Account `json:"to"`
	Amount    int64   `json:"amount"`
	Kind      Kind    `json:"kind"`
	Timestamp int64   `json:"timestamp"`
}

// Ledger 是外部原子转账原语。本仓库只发起转账请求，
// 依赖其"要么全部生效、要么全部不生效"的结果，从不自行实现记账。
type Ledger interface {
	// Transfer 原子地将 amount 从 from 划转到 to。失败时返回
	// ErrInsufficientFunds 或带 CodeLedgerFailure 的错误。
	Transfer(ctx context.Context, from, to Account, amount int64, kind Kind) error
	// BalanceOf 返回与最近一次完成转账一致的余额。
	BalanceOf(ctx context.Context, account Account) (int64, error)
}

// HistoryReader 由保留执行历史的账本实现，供看板分析接口使用。
type HistoryReader interface {
	History(ctx context.Context, account Account, limit int) ([]TransferRecord, error)
	TotalTransferred(ctx context.Context, from Account, kind Kind) (int64, error)
	UniqueRecipients(ctx context.Context, from Account, kind Kind) (int, error)
}
