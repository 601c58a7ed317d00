package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// 执行状态
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrEmpty 等待超时，队列中没有消息
var ErrEmpty = errors.New("queue empty")

// RedisQueue Redis队列实现
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// RunMessage 队列中的执行消息
type RunMessage struct {
	MessageID string `json:"message_id"`
	RunID     string `json:"run_id"`
	Source    string `json:"source"` // api / schedule
	Created   int64  `json:"created"`
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewRedisQueue 创建Redis队列实例
func NewRedisQueue(config *Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisQueueWithClient(client, config.Prefix)
}

// NewRedisQueueWithClient 使用已有的客户端
func NewRedisQueueWithClient(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "askable:queue"
	}
	return &RedisQueue{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping 测试Redis连接
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue 将执行加入队列
func (q *RedisQueue) Enqueue(ctx context.Context, runID, source string) (*RunMessage, error) {
	message := RunMessage{
		MessageID: uuid.New().String(),
		RunID:     runID,
		Source:    source,
		Created:   time.Now().Unix(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("序列化执行消息失败: %w", err)
	}

	// 左侧入队，右侧出队
	if err := q.client.LPush(ctx, q.getQueueKey(), data).Err(); err != nil {
		return nil, fmt.Errorf("执行入队失败: %w", err)
	}

	runKey := q.getRunKey(runID)
	runInfo := map[string]interface{}{
		"run_id":     runID,
		"message_id": message.MessageID,
		"source":     source,
		"status":     StatusQueued,
		"queued_at":  time.Now().Unix(),
	}
	if err := q.client.HSet(ctx, runKey, runInfo).Err(); err != nil {
		return nil, fmt.Errorf("记录执行状态失败: %w", err)
	}

	// 状态保留24小时
	q.client.Expire(ctx, runKey, 24*time.Hour)

	return &message, nil
}

// Dequeue 阻塞等待下一条执行消息，超时返回 ErrEmpty
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*RunMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.getQueueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	// result[0] 为键名，result[1] 为消息
	if len(result) < 2 {
		return nil, ErrEmpty
	}

	var message RunMessage
	if err := json.Unmarshal([]byte(result[1]), &message); err != nil {
		return nil, fmt.Errorf("解析执行消息失败: %w", err)
	}
	return &message, nil
}

// Length 队列中等待的执行数
func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.getQueueKey()).Result()
}

// UpdateRunStatus 更新执行状态
func (q *RedisQueue) UpdateRunStatus(ctx context.Context, runID, status string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Unix(),
	}

	if status == StatusRunning {
		updates["started_at"] = time.Now().Unix()
	} else if status == StatusCompleted || status == StatusFailed {
		updates["finished_at"] = time.Now().Unix()
	}

	return q.client.HSet(ctx, q.getRunKey(runID), updates).Err()
}

// SetRunResult 记录执行结束信息
func (q *RedisQueue) SetRunResult(ctx context.Context, runID string, exitCode int, errorMsg string) error {
	updates := map[string]interface{}{
		"exit_code":   exitCode,
		"finished_at": time.Now().Unix(),
		"status":      StatusCompleted,
	}
	if errorMsg != "" {
		updates["error"] = errorMsg
		updates["status"] = StatusFailed
	}

	if err := q.client.HSet(ctx, q.getRunKey(runID), updates).Err(); err != nil {
		return fmt.Errorf("设置执行结果失败: %w", err)
	}
	return nil
}

// GetRunStatus 获取执行状态
func (q *RedisQueue) GetRunStatus(ctx context.Context, runID string) (map[string]string, error) {
	result, err := q.client.HGetAll(ctx, q.getRunKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("获取执行状态失败: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("执行不存在")
	}
	return result, nil
}

// PublishRunLog 发布实时日志
func (q *RedisQueue) PublishRunLog(ctx context.Context, runID string, payload []byte) error {
	return q.client.Publish(ctx, LogChannel(runID), payload).Err()
}

// SubscribeRunLog 订阅实时日志
func (q *RedisQueue) SubscribeRunLog(ctx context.Context, runID string) *redis.PubSub {
	return q.client.Subscribe(ctx, LogChannel(runID))
}

// LogChannel 实时日志频道
func LogChannel(runID string) string {
	return fmt.Sprintf("run:logs:%s", runID)
}

// getQueueKey 获取队列键名
func (q *RedisQueue) getQueueKey() string {
	return fmt.Sprintf("%s:runs", q.prefix)
}

// getRunKey 获取执行状态键名
func (q *RedisQueue) getRunKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", q.prefix, runID)
}

// GetClient 获取Redis客户端（用于高级操作）
func (q *RedisQueue) GetClient() *redis.Client {
	return q.client
}
