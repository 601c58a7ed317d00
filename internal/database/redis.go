package database

import (
	"askable/pkg/config"
	"askable/pkg/queue"
	"context"
	"fmt"
	"sync"
	"time"
)

var (
	runQueue     *queue.RedisQueue
	runQueueOnce sync.Once
)

// GetRunQueue 获取执行队列单例
func GetRunQueue() *queue.RedisQueue {
	runQueueOnce.Do(func() {
		cfg := config.GetConfig()
		runQueue = queue.NewRedisQueue(&queue.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	})
	return runQueue
}

// PingRedis 启动时检查 Redis 是否可用
func PingRedis(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := GetRunQueue().Ping(ctx); err != nil {
		return fmt.Errorf("连接Redis失败: %w", err)
	}
	return nil
}

// CloseRunQueue 关闭Redis连接
func CloseRunQueue() error {
	if runQueue != nil {
		return runQueue.Close()
	}
	return nil
}
