package policy

import (
	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/ledger"
)

// windowSeconds 是日限额滚动窗口的长度。
const windowSeconds = 24 * 60 * 60

// SpendingPolicy 描述 owner 授予 agent 的受限支付授权。
// 同一 (owner, agent) 只存在一份策略，重建即覆盖并清零消费状态。
type SpendingPolicy struct {
	Owner             ledger.Account   `json:"owner"`
	Agent             ledger.Account   `json:"agent"`
	MaxPerTx          int64            `json:"max_per_tx"`
	MaxDaily          int64            `json:"max_daily"`
	DailySpent        int64            `json:"daily_spent"`
	WindowStart       int64            `json:"window_start"`
	AllowedRecipients []ledger.Account `json:"allowed_recipients,omitempty"`
	Active            bool             `json:"active"`
	CreatedAt         int64            `json:"created_at"`
	ExpiresAt         int64            `json:"expires_at,omitempty"`
}

// RecipientAllowed 判断收款方是否在白名单内。空白名单表示不限制收款方。
func (p *SpendingPolicy) RecipientAllowed(recipient ledger.Account) bool {
	if len(p.AllowedRecipients) == 0 {
		return true
	}
	for _, allowed := range p.AllowedRecipients {
		if allowed == recipient {
			return true
		}
	}
	return false
}

// Remaining 返回当前窗口内剩余的可支配额度。
func (p *SpendingPolicy) Remaining() int64 {
	remaining := p.MaxDaily - p.DailySpent
	if remaining < 0 {
		return 0
	}
	return remaining
}

var (
	// ErrPolicyNotFound 表示 (owner, agent) 对应的策略不存在。
	ErrPolicyNotFound = xerrors.New(CodePolicyNotFound, "policy not found")
	// ErrPolicyInactive 表示策略已被撤销。
	ErrPolicyInactive = xerrors.New(CodePolicyInactive, "policy inactive", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrPolicyExpired 表示策略已过有效期。
	ErrPolicyExpired = xerrors.New(CodePolicyExpired, "policy expired")
	// ErrNotOwner 表示调用方不是策略的所有者。
	ErrNotOwner = xerrors.New(CodeNotOwner, "caller is not the policy owner")
	// ErrRecipientNotAllowed 表示收款方不在白名单内。
	ErrRecipientNotAllowed = xerrors.New(CodeRecipientNotAllowed, "recipient not allowed")
	// ErrPerTxLimitExceeded 表示单笔金额超过上限。
	ErrPerTxLimitExceeded = xerrors.New(CodePerTxLimitExceeded, "per-transaction limit exceeded")
	// ErrDailyLimitExceeded 表示本窗口累计金额将超过日限额。
	ErrDailyLimitExceeded = xerrors.New(CodeDailyLimitExceeded, "daily limit exceeded")
	// ErrTransferFailed 表示账本拒绝了转账请求。
	ErrTransferFailed = xerrors.New(CodeTransferFailed, "ledger transfer failed", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodePolicyNotFound      xerrors.Code = "POLICY_NOT_FOUND"
	CodePolicyInactive      xerrors.Code = "POLICY_INACTIVE"
	CodePolicyExpired       xerrors.Code = "POLICY_EXPIRED"
	CodeNotOwner            xerrors.Code = "POLICY_NOT_OWNER"
	CodeRecipientNotAllowed xerrors.Code = "POLICY_RECIPIENT_NOT_ALLOWED"
	CodePerTxLimitExceeded  xerrors.Code = "POLICY_PER_TX_LIMIT_EXCEEDED"
	CodeDailyLimitExceeded  xerrors.Code = "POLICY_DAILY_LIMIT_EXCEEDED"
	CodeTransferFailed      xerrors.Code = "POLICY_TRANSFER_FAILED"
	CodeValidation          xerrors.Code = "POLICY_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodePolicyNotFound, xerrors.Attributes{
		Message:   "policy not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePolicyInactive, xerrors.Attributes{
		Message:   "policy inactive",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePolicyExpired, xerrors.Attributes{
		Message:   "policy expired",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNotOwner, xerrors.Attributes{
		Message:   "caller is not the policy owner",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecipientNotAllowed, xerrors.Attributes{
		Message:   "recipient not allowed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePerTxLimitExceeded, xerrors.Attributes{
		Message:   "per-transaction limit exceeded",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDailyLimitExceeded, xerrors.Attributes{
		Message:   "daily limit exceeded",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTransferFailed, xerrors.Attributes{
		Message:   "ledger transfer failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:   "policy validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// IsPolicyError 判断错误是否为指定的策略错误码。
func IsPolicyError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	return xerrors.CodeOf(err) == target
}

func clonePolicy(p *SpendingPolicy) *SpendingPolicy {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AllowedRecipients = append([]ledger.Account(nil), p.AllowedRecipients...)
	return &clone
}
