package subscription

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strconv"
	"time"

	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/ledger"
	"PayRoute/internal/observability/alerting"
	"PayRoute/internal/observability/metrics"
	"PayRoute/pkg/logger"
)

// Keeper 周期性扫描到期订阅投递到队列，并消费队列执行订阅。
// 扫描与执行通过队列解耦，多个 keeper 实例可以共享同一队列。
type Keeper struct {
	scheduler    *Scheduler
	producer     Producer
	consumer     Consumer
	executor     ledger.Account
	scanInterval time.Duration
	batchSize    int
	workerCount  int
	log          *slog.Logger
	alerter      alerting.Dispatcher
}

// KeeperOption 定义可选配置。
type KeeperOption func(*Keeper)

// WithScanInterval 设置到期扫描的周期。
func WithScanInterval(interval time.Duration) KeeperOption {
	return func(k *Keeper) {
		if interval > 0 {
			k.scanInterval = interval
		}
	}
}

// WithBatchSize 设置单轮扫描投递的最大订阅数。
func WithBatchSize(size int) KeeperOption {
	return func(k *Keeper) {
		if size > 0 {
			k.batchSize = size
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) KeeperOption {
	return func(k *Keeper) {
		if workers > 0 {
			k.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) KeeperOption {
	return func(k *Keeper) {
		k.alerter = dispatcher
	}
}

// NewKeeper 构造 Keeper。executor 是收取小费的执行账户。
func NewKeeper(scheduler *Scheduler, producer Producer, consumer Consumer, executor ledger.Account, opts ...KeeperOption) (*Keeper, error) {
	if scheduler == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "scheduler 不能为空")
	}
	if producer == nil || consumer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置订阅队列")
	}
	if executor == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "executor 账户不能为空")
	}

	keeper := &Keeper{
		scheduler:    scheduler,
		producer:     producer,
		consumer:     consumer,
		executor:     executor,
		scanInterval: 15 * time.Second,
		batchSize:    100,
		workerCount:  4,
		log:          logger.Named("keeper"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(keeper)
		}
	}
	return keeper, nil
}

// Start 启动扫描与消费循环，阻塞直到 ctx 取消。
func (k *Keeper) Start(ctx context.Context) error {
	go k.dispatchLoop(ctx)
	return k.consumer.Consume(ctx, k.workerCount, k.handle)
}

func (k *Keeper) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(k.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.dispatchDue(ctx)
		}
	}
}

func (k *Keeper) dispatchDue(ctx context.Context) {
	due, err := k.scheduler.ListDue(ctx, k.batchSize)
	if err != nil {
		k.log.Error("扫描到期订阅失败", slog.String("error", err.Error()))
		k.emitAlert(ctx, "scan", xerrors.CodeStorageFailure, err)
		return
	}
	for _, sub := range due {
		id := strconv.FormatUint(sub.ID, 10)
		if err := k.producer.Publish(ctx, id); err != nil {
			k.log.Error("投递到期订阅失败",
				slog.Uint64("subscription_id", sub.ID),
				slog.String("error", err.Error()),
			)
			k.emitAlert(ctx, "subscription/"+id, CodePublish, err)
			return
		}
	}
	if len(due) > 0 {
		k.log.Debug("已投递到期订阅", slog.Int("count", len(due)))
	}
}

func (k *Keeper) handle(ctx context.Context, subscriptionID string) error {
	id, err := strconv.ParseUint(subscriptionID, 10, 64)
	if err != nil {
		k.log.Warn("丢弃非法的订阅 id", slog.String("subscription_id", subscriptionID))
		return nil
	}

	receipt, execErr := k.scheduler.Execute(ctx, id, k.executor)
	if execErr == nil {
		metrics.ObserveExecution("subscription", "success")
		k.log.Debug("订阅执行成功",
			slog.Uint64("subscription_id", id),
			slog.String("receipt_id", receipt.ID),
			slog.Int64("tip", receipt.Tip),
		)
		return nil
	}

	switch {
	case stdErrors.Is(execErr, ErrNotDue):
		// 并发执行人已经消费了这个槽位，属于正常竞争。
		metrics.ObserveExecution("subscription", "not_due")
		return nil
	case stdErrors.Is(execErr, ErrSubscriptionNotFound), stdErrors.Is(execErr, ErrSubscriptionInactive):
		metrics.ObserveExecution("subscription", "skipped")
		return nil
	case IsSubscriptionError(execErr, CodeTipTransferFailed):
		// 本金已到账，只有 keeper 自己的小费没了。
		metrics.ObserveExecution("subscription", "tip_failed")
		k.log.Warn("小费转账失败",
			slog.Uint64("subscription_id", id),
			slog.String("error", execErr.Error()),
		)
		k.emitAlert(ctx, "subscription/"+subscriptionID, CodeTipTransferFailed, execErr)
		return nil
	default:
		metrics.ObserveExecution("subscription", "failed")
		k.log.Error("订阅执行失败",
			slog.Uint64("subscription_id", id),
			slog.String("error", execErr.Error()),
		)
		k.emitAlert(ctx, "subscription/"+subscriptionID, xerrors.CodeOf(execErr), execErr)
		return execErr
	}
}

func (k *Keeper) emitAlert(ctx context.Context, subject string, code xerrors.Code, cause error) {
	if k == nil || k.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		Subject:    subject,
		OccurredAt: time.Now(),
	}
	if err := k.alerter.Notify(ctx, event); err != nil {
		k.log.Error("告警通知失败",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}
