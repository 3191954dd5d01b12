package router

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/ledger"
	"PayRoute/pkg/logger"
)

// DefaultFeeBps 是平台手续费的默认费率（0.1%）。
const DefaultFeeBps int64 = 10

// Receipt 是一次路由支付的凭证。Amount 为扣除手续费后到账的金额。
type Receipt struct {
	ID        string         `json:"id"`
	Sender    ledger.Account `json:"sender"`
	Recipient ledger.Account `json:"recipient"`
	Amount    int64          `json:"amount"`
	Fee       int64          `json:"fee"`
	RouteID   string         `json:"route_id,omitempty"`
}

var (
	// ErrPaymentFailed 表示账本拒绝了支付请求。
	ErrPaymentFailed = xerrors.New(CodePaymentFailed, "routed payment failed", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodePaymentFailed xerrors.Code = "ROUTER_PAYMENT_FAILED"
	CodeValidation    xerrors.Code = "ROUTER_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodePaymentFailed, xerrors.Attributes{
		Message:   "routed payment failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:   "router validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Router 执行一次性支付：手续费进国库，余额给收款人。
type Router struct {
	ledger   ledger.Ledger
	treasury ledger.Account
	feeBps   int64
	log      *slog.Logger
}

// NewRouter 创建路由器。feeBps 为 0 时使用默认费率。
func NewRouter(l ledger.Ledger, treasury ledger.Account, feeBps int64) (*Router, error) {
	if l == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ledger 不能为空")
	}
	if treasury == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "treasury 账户不能为空")
	}
	if feeBps < 0 || feeBps > 10000 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "feeBps 必须在 [0, 10000] 区间内")
	}
	if feeBps == 0 {
		feeBps = DefaultFeeBps
	}
	return &Router{
		ledger:   l,
		treasury: treasury,
		feeBps:   feeBps,
		log:      logger.Named("router"),
	}, nil
}

// SendPayment 从 sender 向 recipient 支付 amount，扣除 feeBps 手续费。
// 本金先到账，手续费随后进国库。
func (r *Router) SendPayment(ctx context.Context, sender, recipient ledger.Account, amount int64, routeID string) (*Receipt, error) {
	if sender == "" || recipient == "" {
		return nil, xerrors.New(CodeValidation, "sender 和 recipient 不能为空")
	}
	if sender == recipient {
		return nil, xerrors.New(CodeValidation, "sender 和 recipient 不能是同一账户")
	}
	if amount <= 0 {
		return nil, xerrors.New(CodeValidation, "amount 必须大于 0")
	}

	fee := amount * r.feeBps / 10000
	afterFee := amount - fee

	if afterFee > 0 {
		if err := r.ledger.Transfer(ctx, sender, recipient, afterFee, ledger.KindPayment); err != nil {
			return nil, xerrors.Wrap(CodePaymentFailed, err, "支付转账失败")
		}
	}
	if fee > 0 {
		if err := r.ledger.Transfer(ctx, sender, r.treasury, fee, ledger.KindFee); err != nil {
			// 本金已到账，手续费欠收只记录告警。
			r.log.Error("手续费转账失败",
				slog.String("sender", string(sender)),
				slog.Int64("fee", fee),
				slog.String("error", err.Error()),
			)
			return nil, xerrors.Wrap(CodePaymentFailed, err, "手续费转账失败")
		}
	}

	receipt := &Receipt{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Amount:    afterFee,
		Fee:       fee,
		RouteID:   routeID,
	}
	logger.Audit().Info("router.send",
		slog.String("receipt_id", receipt.ID),
		slog.String("sender", string(sender)),
		slog.String("recipient", string(recipient)),
		slog.Int64("amount", afterFee),
		slog.Int64("fee", fee),
		slog.String("route_id", routeID),
	)
	return receipt, nil
}

// FeeBps 返回当前费率。
func (r *Router) FeeBps() int64 { return r.feeBps }
