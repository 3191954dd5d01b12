package subscription

import (
	"context"
)

// Handler 处理来自消息队列的订阅 ID（十进制字符串）。
type Handler func(ctx context.Context, subscriptionID string) error

// Producer 负责向队列投递到期订阅。
type Producer interface {
	Publish(ctx context.Context, subscriptionID string) error
	Close() error
}

// Consumer 负责从队列中消费到期订阅。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
