package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	q := NewRedisQueue(&Config{Host: "127.0.0.1", Port: 6379})
	defer q.Close()

	assert.Equal(t, "askable:queue:runs", q.getQueueKey())
	assert.Equal(t, "askable:queue:run:20250619_164159", q.getRunKey("20250619_164159"))
	assert.Equal(t, "run:logs:20250619_164159", LogChannel("20250619_164159"))
}

// newTestQueue 需要本地 Redis，设置 ASKABLE_TEST_REDIS=1 时运行
func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	if os.Getenv("ASKABLE_TEST_REDIS") == "" {
		t.Skip("未设置 ASKABLE_TEST_REDIS，跳过 Redis 集成测试")
	}
	q := NewRedisQueue(&Config{Host: "127.0.0.1", Port: 6379, DB: 15, Prefix: "askable:test:" + time.Now().Format("150405.000")})
	ctx := context.Background()
	if err := q.Ping(ctx); err != nil {
		t.Skipf("Redis 不可用: %v", err)
	}
	t.Cleanup(func() {
		q.GetClient().FlushDB(context.Background())
		q.Close()
	})
	return q
}

func TestEnqueueDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	msg, err := q.Enqueue(ctx, "20250619_164159", "api")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.MessageID)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg.RunID, got.RunID)
	assert.Equal(t, "api", got.Source)

	_, err = q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.UpdateRunStatus(ctx, msg.RunID, StatusRunning))
	require.NoError(t, q.SetRunResult(ctx, msg.RunID, 2, ""))
	status, err := q.GetRunStatus(ctx, msg.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status["status"])
	assert.Equal(t, "2", status["exit_code"])
}

func TestPublishSubscribe(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	sub := q.SubscribeRunLog(ctx, "r1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.PublishRunLog(ctx, "r1", []byte(`{"message":"ok: [web1]"}`)))

	select {
	case m := <-sub.Channel():
		assert.Equal(t, `{"message":"ok: [web1]"}`, m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到实时日志")
	}
}
