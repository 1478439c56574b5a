package mq

import (
	"context"
	"errors"
	"sync"
)

const (
	// QueueProcessFile 文件导入任务队列
	QueueProcessFile = "queue_process_file"
)

var ErrBrokerClosed = errors.New("broker is closed")

// Broker 任务队列，同一队列内先进先出，至少一次投递
type Broker interface {
	// Submit 将 payload 编码为 JSON 入队，不等待处理
	Submit(ctx context.Context, queue string, payload any) error

	// Consume 阻塞直到取到一条消息或 ctx 结束
	// 取出的消息在 Ack 或 Nack 之前只属于调用方
	Consume(ctx context.Context, queue string) (*Delivery, error)

	Start() error
	Shutdown()
}

// Delivery 一条待确认的消息
type Delivery struct {
	Queue string
	ID    string
	Body  []byte

	settle func(ok bool)
	once   sync.Once
}

func newDelivery(queue, id string, body []byte, settle func(ok bool)) *Delivery {
	return &Delivery{
		Queue:  queue,
		ID:     id,
		Body:   body,
		settle: settle,
	}
}

// Ack 确认消费成功，消息不再投递
func (d *Delivery) Ack() {
	d.finish(true)
}

// Nack 放回队列等待重新投递
func (d *Delivery) Nack() {
	d.finish(false)
}

func (d *Delivery) finish(ok bool) {
	d.once.Do(func() {
		if d.settle != nil {
			d.settle(ok)
		}
	})
}
