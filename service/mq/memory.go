package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type memoryMessage struct {
	id   string
	body []byte
}

type memoryQueue struct {
	items  []memoryMessage
	signal chan struct{}
}

// MemoryBroker 进程内队列，用于单进程模式和测试
// Nack 的消息放回队首
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	closed chan struct{}
	once   sync.Once
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memoryQueue),
		closed: make(chan struct{}),
	}
}

func (b *MemoryBroker) Start() error {
	return nil
}

func (b *MemoryBroker) Shutdown() {
	b.once.Do(func() { close(b.closed) })
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{signal: make(chan struct{}, 1)}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Submit(_ context.Context, queue string, payload any) error {
	select {
	case <-b.closed:
		return ErrBrokerClosed
	default:
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	b.mu.Lock()
	q := b.queue(queue)
	q.items = append(q.items, memoryMessage{id: uuid.NewString(), body: body})
	b.mu.Unlock()

	notify(q)
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string) (*Delivery, error) {
	for {
		b.mu.Lock()
		q := b.queue(queue)
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			b.mu.Unlock()

			// 唤醒其他等待的消费者
			if remaining > 0 {
				notify(q)
			}
			return newDelivery(queue, msg.id, msg.body, func(ok bool) {
				if !ok {
					b.requeue(queue, msg)
				}
			}), nil
		}
		b.mu.Unlock()

		select {
		case <-q.signal:
		case <-b.closed:
			return nil, ErrBrokerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *MemoryBroker) requeue(queue string, msg memoryMessage) {
	b.mu.Lock()
	q := b.queue(queue)
	q.items = append([]memoryMessage{msg}, q.items...)
	b.mu.Unlock()
	notify(q)
}

// Len 队列中等待消费的消息数
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue(queue).items)
}

func notify(q *memoryQueue) {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
