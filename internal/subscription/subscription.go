package subscription

import (
	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/ledger"
)

// Status 表示订阅在生命周期中的状态。cancelled 与 exhausted 为终态，
// 只有 paused 可以恢复为 active。
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExhausted Status = "exhausted"
)

// Subscription 描述一条周期性付款计划。节奏固定：每次成功执行后
// nextExecutionTime 在旧值基础上加 interval，不以执行时刻为基准。
type Subscription struct {
	ID                uint64         `json:"id"`
	Payer             ledger.Account `json:"payer"`
	Recipient         ledger.Account `json:"recipient"`
	Token             string         `json:"token"`
	Amount            int64          `json:"amount"`
	Interval          int64          `json:"interval"`
	MaxExecutions     int64          `json:"max_executions"`
	ExecutionCount    int64          `json:"execution_count"`
	TipBps            int64          `json:"tip_bps"`
	NextExecutionTime int64          `json:"next_execution_time"`
	Status            Status         `json:"status"`
	Memo              string         `json:"memo,omitempty"`
	CreatedAt         int64          `json:"created_at"`
	UpdatedAt         int64          `json:"updated_at"`
}

// Due 判断订阅在 now 时刻是否到期可执行。
func (s *Subscription) Due(now int64) bool {
	return s.Status == StatusActive && now >= s.NextExecutionTime
}

var (
	// ErrSubscriptionNotFound 表示指定的订阅不存在。
	ErrSubscriptionNotFound = xerrors.New(CodeSubscriptionNotFound, "subscription not found")
	// ErrSubscriptionInactive 表示订阅当前不可执行。
	ErrSubscriptionInactive = xerrors.New(CodeSubscriptionInactive, "subscription inactive", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrSubscriptionTerminal 表示订阅已进入终态，不可恢复。
	ErrSubscriptionTerminal = xerrors.New(CodeSubscriptionTerminal, "subscription in terminal state", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrNotDue 表示订阅尚未到期。
	ErrNotDue = xerrors.New(CodeNotDue, "subscription not due")
	// ErrNotPayer 表示调用方不是订阅的付款人。
	ErrNotPayer = xerrors.New(CodeNotPayer, "caller is not the subscription payer")
	// ErrTransferFailed 表示本金转账被账本拒绝。
	ErrTransferFailed = xerrors.New(CodeTransferFailed, "subscription transfer failed", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrTipTransferFailed 表示本金已到账但小费转账失败。
	ErrTipTransferFailed = xerrors.New(CodeTipTransferFailed, "tip transfer failed after principal settled", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeSubscriptionNotFound xerrors.Code = "SUBSCRIPTION_NOT_FOUND"
	CodeSubscriptionInactive xerrors.Code = "SUBSCRIPTION_INACTIVE"
	CodeSubscriptionTerminal xerrors.Code = "SUBSCRIPTION_TERMINAL"
	CodeNotDue               xerrors.Code = "SUBSCRIPTION_NOT_DUE"
	CodeNotPayer             xerrors.Code = "SUBSCRIPTION_NOT_PAYER"
	CodeTransferFailed       xerrors.Code = "SUBSCRIPTION_TRANSFER_FAILED"
	CodeTipTransferFailed    xerrors.Code = "SUBSCRIPTION_TIP_TRANSFER_FAILED"
	CodeValidation           xerrors.Code = "SUBSCRIPTION_VALIDATION_FAILED"
	CodePublish              xerrors.Code = "SUBSCRIPTION_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeSubscriptionNotFound, xerrors.Attributes{
		Message:   "subscription not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSubscriptionInactive, xerrors.Attributes{
		Message:   "subscription inactive",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSubscriptionTerminal, xerrors.Attributes{
		Message:   "subscription in terminal state",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNotDue, xerrors.Attributes{
		Message:   "subscription not due",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeNotPayer, xerrors.Attributes{
		Message:   "caller is not the subscription payer",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTransferFailed, xerrors.Attributes{
		Message:   "subscription transfer failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTipTransferFailed, xerrors.Attributes{
		Message:   "tip transfer failed after principal settled",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:   "subscription validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePublish, xerrors.Attributes{
		Message:   "failed to publish due subscription",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsSubscriptionError 判断错误是否为指定的订阅错误码。
func IsSubscriptionError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	return xerrors.CodeOf(err) == target
}

// IsValidStatus 检查给定的订阅状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusActive, StatusPaused, StatusCancelled, StatusExhausted:
		return true
	default:
		return false
	}
}

func cloneSubscription(s *Subscription) *Subscription {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
