package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"knowledge-base-backend/config"

	"github.com/apache/rocketmq-client-go/v2"
	c "github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/apache/rocketmq-client-go/v2/rlog"
	"github.com/avast/retry-go/v4"
)

const sendMessageAttempts = 3

// RocketMQBroker 队列名即 topic，集群顺序消费
// 同一 topic 的消息以 topic 名为分片键写入同一个 MessageQueue，消费端按队列顺序投递，保证先进先出
// 推模式回调把消息交给阻塞在 Consume 上的调用方，并等待其确认
type RocketMQBroker struct {
	producer rocketmq.Producer
	consumer rocketmq.PushConsumer

	deliveries map[string]chan *Delivery
	closed     chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
}

func NewRocketMQBroker(cfg config.MQConfig, queues []string, consumers int, logger *slog.Logger) (*RocketMQBroker, error) {
	// 设置RocketMQ客户端（使用rlog）的日志级别
	rlog.SetLogLevel("warn")

	if logger == nil {
		logger = slog.Default()
	}
	if consumers <= 0 {
		consumers = 1
	}

	consumer, err := rocketmq.NewPushConsumer(
		c.WithNameServer(nameServers(cfg.NameServer)),
		c.WithGroupName(cfg.GroupName),
		c.WithConsumerModel(c.Clustering),
		c.WithConsumeFromWhere(c.ConsumeFromLastOffset),
		c.WithConsumerOrder(true),
		c.WithMaxReconsumeTimes(cfg.MaxReconsumeTimes),
		c.WithConsumeGoroutineNums(consumers),
		c.WithConsumeMessageBatchMaxSize(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	p, err := rocketmq.NewProducer(
		producer.WithNameServer(nameServers(cfg.NameServer)),
		producer.WithGroupName(cfg.GroupName),
		producer.WithQueueSelector(producer.NewHashQueueSelector()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	b := &RocketMQBroker{
		producer:   p,
		consumer:   consumer,
		deliveries: make(map[string]chan *Delivery, len(queues)),
		closed:     make(chan struct{}),
		logger:     logger.With("component", "rocketmq"),
	}

	for _, queue := range queues {
		if err := b.subscribe(queue); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *RocketMQBroker) subscribe(topic string) error {
	ch := make(chan *Delivery)
	b.deliveries[topic] = ch

	err := b.consumer.Subscribe(topic, c.MessageSelector{}, func(ctx context.Context, messages ...*primitive.MessageExt) (c.ConsumeResult, error) {
		for _, msg := range messages {
			done := make(chan bool, 1)
			d := newDelivery(msg.Topic, msg.MsgId, msg.Body, func(ok bool) { done <- ok })

			select {
			case ch <- d:
			case <-b.closed:
				return c.SuspendCurrentQueueAMoment, nil
			}

			if ok := <-done; !ok {
				b.logger.Warn("message nacked, will be redelivered",
					"topic", msg.Topic,
					"msg_id", msg.MsgId,
					"reconsume_times", msg.ReconsumeTimes)
				return c.SuspendCurrentQueueAMoment, nil
			}
		}
		return c.ConsumeSuccess, nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	return nil
}

func (b *RocketMQBroker) Start() error {
	if err := b.producer.Start(); err != nil {
		return fmt.Errorf("failed to start producer: %w", err)
	}
	// 只投递不消费的进程不启动消费者
	if len(b.deliveries) == 0 {
		return nil
	}
	if err := b.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	return nil
}

func (b *RocketMQBroker) Submit(ctx context.Context, queue string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	msg := newOrderedMessage(queue, payloadJSON)

	err = retry.Do(
		func() error {
			_, err := b.producer.SendSync(ctx, msg)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(sendMessageAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Warn("retrying to send message",
				"attempt", n+1,
				"topic", queue,
				"err", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s after retries: %w", queue, err)
	}
	return nil
}

func (b *RocketMQBroker) Consume(ctx context.Context, queue string) (*Delivery, error) {
	ch, ok := b.deliveries[queue]
	if !ok {
		return nil, fmt.Errorf("queue %s is not subscribed", queue)
	}

	select {
	case d := <-ch:
		return d, nil
	case <-b.closed:
		return nil, ErrBrokerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown 在所有消费者确认完手头的消息之后调用
func (b *RocketMQBroker) Shutdown() {
	b.closeOnce.Do(func() {
		close(b.closed)
		if err := b.producer.Shutdown(); err != nil {
			b.logger.Error("failed to shutdown producer", "err", err)
		}
		if len(b.deliveries) == 0 {
			return
		}
		if err := b.consumer.Shutdown(); err != nil {
			b.logger.Error("failed to shutdown consumer", "err", err)
		}
	})
}

// newOrderedMessage 分片键固定为 topic，哈希选择器把整个 topic 的消息写入同一个队列
func newOrderedMessage(topic string, body []byte) *primitive.Message {
	return primitive.NewMessage(topic, body).WithShardingKey(topic)
}

// nameServers 支持以逗号分隔的多个 NameServer 地址
func nameServers(addr string) primitive.NamesrvAddr {
	var addrs primitive.NamesrvAddr
	for _, a := range strings.Split(addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}
