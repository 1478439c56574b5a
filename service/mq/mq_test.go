package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	TaskID string `json:"task_id"`
}

func decode(t *testing.T, d *Delivery) string {
	t.Helper()
	var p payload
	require.NoError(t, json.Unmarshal(d.Body, &p))
	return p.TaskID
}

func TestMemoryBroker_FIFO(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Submit(ctx, QueueProcessFile, payload{TaskID: id}))
	}
	assert.Equal(t, 3, b.Len(QueueProcessFile))

	for _, want := range []string{"a", "b", "c"} {
		d, err := b.Consume(ctx, QueueProcessFile)
		require.NoError(t, err)
		assert.Equal(t, want, decode(t, d))
		d.Ack()
	}
	assert.Equal(t, 0, b.Len(QueueProcessFile))
}

func TestMemoryBroker_NackRedelivers(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	require.NoError(t, b.Submit(ctx, QueueProcessFile, payload{TaskID: "a"}))
	require.NoError(t, b.Submit(ctx, QueueProcessFile, payload{TaskID: "b"}))

	d, err := b.Consume(ctx, QueueProcessFile)
	require.NoError(t, err)
	d.Nack()
	// 重复确认无效
	d.Ack()

	d, err = b.Consume(ctx, QueueProcessFile)
	require.NoError(t, err)
	assert.Equal(t, "a", decode(t, d))
	d.Ack()
	assert.Equal(t, 1, b.Len(QueueProcessFile))
}

func TestMemoryBroker_ConsumeBlocksUntilSubmit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := NewMemoryBroker()

	got := make(chan string, 1)
	go func() {
		d, err := b.Consume(ctx, QueueProcessFile)
		if err != nil {
			got <- "err: " + err.Error()
			return
		}
		d.Ack()
		var p payload
		_ = json.Unmarshal(d.Body, &p)
		got <- p.TaskID
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Submit(ctx, QueueProcessFile, payload{TaskID: "late"}))
	assert.Equal(t, "late", <-got)
}

func TestMemoryBroker_ConsumeHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewMemoryBroker().Consume(ctx, QueueProcessFile)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBroker_Shutdown(t *testing.T) {
	b := NewMemoryBroker()
	b.Shutdown()

	_, err := b.Consume(context.Background(), QueueProcessFile)
	assert.ErrorIs(t, err, ErrBrokerClosed)
	assert.ErrorIs(t, b.Submit(context.Background(), QueueProcessFile, payload{}), ErrBrokerClosed)
}

func TestMemoryBroker_ExactlyOneOwner(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := NewMemoryBroker()

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, b.Submit(ctx, QueueProcessFile, payload{TaskID: string(rune('A' + i%26))}))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				total := 0
				for _, c := range seen {
					total += c
				}
				mu.Unlock()
				if total >= n {
					return
				}
				cctx, ccancel := context.WithTimeout(ctx, 50*time.Millisecond)
				d, err := b.Consume(cctx, QueueProcessFile)
				ccancel()
				if err != nil {
					continue
				}
				mu.Lock()
				seen[d.ID]++
				mu.Unlock()
				d.Ack()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
}

func TestNameServers(t *testing.T) {
	assert.Len(t, nameServers("127.0.0.1:9876, 127.0.0.2:9876"), 2)
	assert.Empty(t, nameServers(""))
}

func TestOrderedMessage_AllTopicMessagesShareOneQueue(t *testing.T) {
	queues := make([]*primitive.MessageQueue, 8)
	for i := range queues {
		queues[i] = &primitive.MessageQueue{Topic: QueueProcessFile, BrokerName: "broker-a", QueueId: i}
	}
	selector := producer.NewHashQueueSelector()

	first := selector.Select(newOrderedMessage(QueueProcessFile, []byte(`{"task_id":"t0"}`)), queues, "")
	require.NotNil(t, first)
	for i := 1; i < 50; i++ {
		msg := newOrderedMessage(QueueProcessFile, []byte(fmt.Sprintf(`{"task_id":"t%d"}`, i)))
		assert.Equal(t, QueueProcessFile, msg.GetShardingKey())
		assert.Same(t, first, selector.Select(msg, queues, ""))
	}
}
