package services

import (
	"askable/internal/models"
	"askable/internal/playbook"
	"askable/internal/reconcile"
	"askable/pkg/errors"
	"askable/pkg/logger"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunService_SubmitSingleFlight(t *testing.T) {
	db := testDB(t)
	q := newFakeQueue()
	svc := NewRunService(db, q, testPipeline(t), logger.Discard())
	ctx := context.Background()

	first, err := svc.Submit(ctx, web1RunRequest(), models.RunSourceAPI, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, first.Status)
	assert.NotNil(t, first.QueuedAt)
	assert.Equal(t, []string{first.RunID}, q.Enqueued())

	_, err = svc.Submit(ctx, web1RunRequest(), models.RunSourceAPI, nil)
	assert.ErrorIs(t, err, errors.ErrRunInProgress)
	assert.Equal(t, errors.CodeConflict, errors.CodeOf(err))
	assert.Len(t, q.Enqueued(), 1)

	require.NoError(t, db.Model(first).Update("status", models.RunStatusCompleted).Error)
	second, err := svc.Submit(ctx, web1RunRequest(), models.RunSourceAPI, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunService_SubmitEnqueueFailure(t *testing.T) {
	db := testDB(t)
	q := newFakeQueue()
	q.enqueueErr = assert.AnError
	svc := NewRunService(db, q, testPipeline(t), logger.Discard())

	_, err := svc.Submit(context.Background(), web1RunRequest(), models.RunSourceAPI, nil)
	assert.ErrorIs(t, err, assert.AnError)

	var run models.ExecutionRun
	require.NoError(t, db.First(&run).Error)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	// 失败的记录不阻塞下一次提交
	q.enqueueErr = nil
	_, err = svc.Submit(context.Background(), web1RunRequest(), models.RunSourceAPI, nil)
	assert.NoError(t, err)
}

func TestRunService_RecoverAndRequeue(t *testing.T) {
	db := testDB(t)
	q := newFakeQueue()
	svc := NewRunService(db, q, testPipeline(t), logger.Discard())

	for runID, status := range map[string]string{
		"20250619_100000": models.RunStatusPending,
		"20250619_100001": models.RunStatusRunning,
		"20250619_100002": models.RunStatusQueued,
		"20250619_100003": models.RunStatusCompleted,
	} {
		require.NoError(t, db.Create(&models.ExecutionRun{RunID: runID, Mode: "unified", Status: status}).Error)
	}

	n, err := svc.RecoverInterrupted()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	requeued, err := svc.Requeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, []string{"20250619_100002"}, q.Enqueued())

	run, err := svc.Get("20250619_100001")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.NotNil(t, run.FinishedAt)

	_, err = svc.Get("missing")
	assert.ErrorIs(t, err, errors.ErrRunNotFound)
}

// 服务重启中断的执行，磁盘上已有结果文件时按已执行对账
func TestRunService_ReportAfterRestart(t *testing.T) {
	db := testDB(t)
	svc := NewRunService(db, newFakeQueue(), testPipeline(t), logger.Discard())

	run, err := svc.Submit(context.Background(), web1RunRequest(), models.RunSourceAPI, nil)
	require.NoError(t, err)
	require.NoError(t, db.Model(run).Update("status", models.RunStatusRunning).Error)

	artifact := playbook.ArtifactPath(run.ResultDir, "U-01_root_remote_login", "web1", "")
	require.NoError(t, os.WriteFile(artifact, []byte(`{"hostname":"web1","is_vulnerable":false}`), 0644))

	_, err = svc.RecoverInterrupted()
	require.NoError(t, err)

	report, err := svc.Report(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ArtifactsLoaded)
	assert.Equal(t, reconcile.Completed, report.Status)
	assert.Empty(t, report.UnreachableHosts)
}
