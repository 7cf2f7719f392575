package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/forge/internal/common"
	"github.com/ternarybob/forge/internal/models"
)

// memJobStorage is an in-memory JobStorage for scheduler tests
type memJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{jobs: make(map[string]*models.Job)}
}

func (s *memJobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := job.Clone()
	s.jobs[job.ID] = clone
	return nil
}

func (s *memJobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *memJobStorage) ListJobsByStatus(ctx context.Context, groupID string, status models.JobStatus) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (s *memJobStorage) ListJobsByProject(ctx context.Context, groupID, projectID string) ([]*models.Job, error) {
	return nil, nil
}

type funcHandler struct {
	execute func(ctx context.Context, job *models.Job) error
	done    func(job *models.Job)
}

func (h *funcHandler) Execute(ctx context.Context, job *models.Job) error {
	return h.execute(ctx, job)
}

func (h *funcHandler) Done(job *models.Job) {
	if h.done != nil {
		h.done(job)
	}
}

func waitForStatus(t *testing.T, storage *memJobStorage, jobID string, want models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := storage.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestManager_ExecutesJobToSuccess(t *testing.T) {
	storage := newMemJobStorage()
	manager := NewManager(storage, 2, 10*time.Millisecond, common.GetLogger())

	var doneCalled atomic.Bool
	manager.RegisterHandler(models.JobTypeQuestionGenerator, &funcHandler{
		execute: func(ctx context.Context, job *models.Job) error { return nil },
		done:    func(job *models.Job) { doneCalled.Store(true) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)

	job := models.NewJob("u1", "g1", models.JobTypeQuestionGenerator, "p1", "{}", "en")
	require.NoError(t, manager.AddJob(ctx, job))

	final := waitForStatus(t, storage, job.ID, models.JobStatusSuccess)
	assert.Equal(t, models.JobStatusSuccess, final.Status)
	assert.True(t, doneCalled.Load())
}

func TestManager_HandlerErrorMarksFailed(t *testing.T) {
	storage := newMemJobStorage()
	manager := NewManager(storage, 2, 10*time.Millisecond, common.GetLogger())

	manager.RegisterHandler(models.JobTypeDatasetGenerator, &funcHandler{
		execute: func(ctx context.Context, job *models.Job) error {
			return errors.New("upstream exploded")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)

	job := models.NewJob("u1", "g1", models.JobTypeDatasetGenerator, "p1", "{}", "en")
	require.NoError(t, manager.AddJob(ctx, job))

	final := waitForStatus(t, storage, job.ID, models.JobStatusFailed)
	result, err := final.DecodeResult()
	require.NoError(t, err)
	assert.Contains(t, result.Error, "upstream exploded")
}

func TestManager_HandlerPanicMarksFailed(t *testing.T) {
	storage := newMemJobStorage()
	manager := NewManager(storage, 1, 10*time.Millisecond, common.GetLogger())

	manager.RegisterHandler(models.JobTypeGaPairGenerator, &funcHandler{
		execute: func(ctx context.Context, job *models.Job) error {
			panic("boom")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)

	job := models.NewJob("u1", "g1", models.JobTypeGaPairGenerator, "p1", "{}", "en")
	require.NoError(t, manager.AddJob(ctx, job))

	final := waitForStatus(t, storage, job.ID, models.JobStatusFailed)
	result, err := final.DecodeResult()
	require.NoError(t, err)
	assert.Contains(t, result.Error, "boom")
}

func TestManager_CancelMidRun(t *testing.T) {
	storage := newMemJobStorage()
	manager := NewManager(storage, 1, 10*time.Millisecond, common.GetLogger())

	started := make(chan struct{})
	manager.RegisterHandler(models.JobTypeQuestionGenerator, &funcHandler{
		execute: func(ctx context.Context, job *models.Job) error {
			result := &models.JobResult{Progress: models.JobProgress{Total: 10}}
			for i := 0; i < 10; i++ {
				if i == 3 {
					close(started)
					// wait for the cancellation to land
					<-ctx.Done()
				}
				result.Progress.DoneCount = i + 1
				if err := UpdateJobStatus(ctx, storage, job, result); err != nil {
					return err
				}
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)

	job := models.NewJob("u1", "g1", models.JobTypeQuestionGenerator, "p1", "{}", "en")
	require.NoError(t, manager.AddJob(ctx, job))

	<-started
	manager.CancelJob(job.ID)

	final := waitForStatus(t, storage, job.ID, models.JobStatusCancel)
	result, err := final.DecodeResult()
	require.NoError(t, err)
	assert.Equal(t, 3, result.Progress.DoneCount)
	assert.NotEmpty(t, result.Error)
}

func TestManager_ConcurrencyLimit(t *testing.T) {
	storage := newMemJobStorage()
	manager := NewManager(storage, 2, 10*time.Millisecond, common.GetLogger())

	var running, peak atomic.Int32
	manager.RegisterHandler(models.JobTypeFilePairGenerator, &funcHandler{
		execute: func(ctx context.Context, job *models.Job) error {
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)

	var jobIDs []string
	for i := 0; i < 5; i++ {
		job := models.NewJob("u1", "g1", models.JobTypeFilePairGenerator, "p1", "{}", "en")
		require.NoError(t, manager.AddJob(ctx, job))
		jobIDs = append(jobIDs, job.ID)
	}

	for _, id := range jobIDs {
		waitForStatus(t, storage, id, models.JobStatusSuccess)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestManager_RecoverReaddsRunningJobs(t *testing.T) {
	storage := newMemJobStorage()

	job := models.NewJob("u1", "g1", models.JobTypeTagGenerator, "p1", "{}", "en")
	require.NoError(t, storage.SaveJob(context.Background(), job))

	manager := NewManager(storage, 2, 10*time.Millisecond, common.GetLogger())
	manager.RegisterHandler(models.JobTypeTagGenerator, &funcHandler{
		execute: func(ctx context.Context, job *models.Job) error { return nil },
	})

	require.NoError(t, manager.Recover(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Run(ctx)

	waitForStatus(t, storage, job.ID, models.JobStatusSuccess)
}

func TestUpdateJobStatus_MergesLogs(t *testing.T) {
	storage := newMemJobStorage()
	job := models.NewJob("u1", "g1", models.JobTypeDatasetGenerator, "p1", "{}", "en")

	prior := &models.JobResult{Progress: models.JobProgress{Total: 2}}
	prior.AppendLog("first item")
	require.NoError(t, job.EncodeResult(prior))
	require.NoError(t, storage.SaveJob(context.Background(), job))

	fresh := &models.JobResult{Progress: models.JobProgress{Total: 2, DoneCount: 1}}
	fresh.AppendLog("second item")
	require.NoError(t, UpdateJobStatus(context.Background(), storage, job, fresh))

	stored, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	result, err := stored.DecodeResult()
	require.NoError(t, err)

	require.Len(t, result.Logs, 2)
	assert.Contains(t, result.Logs[0], "first item")
	assert.Contains(t, result.Logs[1], "second item")
	assert.Equal(t, 1, result.Progress.DoneCount)

	// pending buffer cleared after persist
	assert.Empty(t, fresh.Logs)
}
