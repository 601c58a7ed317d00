package services

import (
	"askable/internal/models"
	"askable/internal/planner"
	"askable/pkg/queue"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testDB 每个测试独立的 sqlite 数据库；cgo 不可用时跳过
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "askable.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Skipf("sqlite 不可用: %v", err)
	}
	require.NoError(t, db.AutoMigrate(models.All()...))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// fakeQueue 内存中的 RunQueue
type fakeQueue struct {
	mu         sync.Mutex
	enqueueErr error
	enqueued   []string
	statuses   map[string]string
	results    map[string]int
	published  int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{statuses: map[string]string{}, results: map[string]int{}}
}

func (q *fakeQueue) Enqueue(ctx context.Context, runID, source string) (*queue.RunMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	q.enqueued = append(q.enqueued, runID)
	return &queue.RunMessage{RunID: runID, Source: source, Created: time.Now().Unix()}, nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.RunMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.enqueued) == 0 {
		return nil, queue.ErrEmpty
	}
	runID := q.enqueued[0]
	q.enqueued = q.enqueued[1:]
	return &queue.RunMessage{RunID: runID}, nil
}

func (q *fakeQueue) UpdateRunStatus(ctx context.Context, runID, status string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses[runID] = status
	return nil
}

func (q *fakeQueue) SetRunResult(ctx context.Context, runID string, exitCode int, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results[runID] = exitCode
	return nil
}

func (q *fakeQueue) PublishRunLog(ctx context.Context, runID string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published++
	return nil
}

func (q *fakeQueue) Enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.enqueued...)
}

// web1RunRequest 只对 web1 执行 U-01
func web1RunRequest() RunRequest {
	return RunRequest{
		Inventory: testInventory,
		Hosts:     []string{"web1"},
		Selection: planner.Unified(planner.SelectionTree{
			"Server-Linux": planner.Explicit(map[string]map[string]bool{
				"账户管理": {"U-01: root 远程登录限制": true},
			}),
		}),
	}
}
