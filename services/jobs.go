package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

var ErrJobConflict = errors.New("a run is already in progress for this source")

// SourceRunner runs one source through the normal dispatch and write path.
type SourceRunner interface {
	RunSource(ctx context.Context, sourceID int64) (models.RunOutcome, error)
}

// Jobs tracks manual single-source runs in memory. Job state is lost on
// restart.
type Jobs struct {
	ctx    context.Context
	runner SourceRunner

	mu     sync.Mutex
	jobs   map[string]*models.Job
	active map[int64]string
	wg     sync.WaitGroup
}

// NewJobs returns a tracker whose runs are cancelled with ctx.
func NewJobs(ctx context.Context, runner SourceRunner) *Jobs {
	return &Jobs{
		ctx:    ctx,
		runner: runner,
		jobs:   make(map[string]*models.Job),
		active: make(map[int64]string),
	}
}

// Start queues a run for sourceID. Only one run per source may be active.
func (j *Jobs) Start(sourceID int64) (models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if id, ok := j.active[sourceID]; ok {
		return *j.jobs[id], ErrJobConflict
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Status:    models.JobQueued,
		CreatedAt: time.Now(),
	}
	j.jobs[job.ID] = job
	j.active[sourceID] = job.ID

	j.wg.Add(1)
	go j.run(job.ID, sourceID)

	return *job, nil
}

func (j *Jobs) run(jobID string, sourceID int64) {
	defer j.wg.Done()

	j.update(jobID, func(job *models.Job) { job.Status = models.JobRunning })

	start := time.Now()
	outcome, err := j.runner.RunSource(j.ctx, sourceID)

	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.active, sourceID)

	job := j.jobs[jobID]
	job.Duration = time.Since(start)
	switch {
	case err != nil:
		job.Status = models.JobFailed
		job.Error = err.Error()
	case outcome.Status == models.RunStatusFailed:
		job.Status = models.JobFailed
		job.Error = outcome.Error
		n := outcome.UnitCount
		job.UnitCount = &n
	default:
		job.Status = models.JobSuccess
		n := outcome.UnitCount
		job.UnitCount = &n
	}
	log.Printf("Job %s for source %d: %s", jobID, sourceID, job.Status)
}

func (j *Jobs) update(jobID string, fn func(*models.Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if job, ok := j.jobs[jobID]; ok {
		fn(job)
	}
}

// Get returns a copy of the job.
func (j *Jobs) Get(jobID string) (models.Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[jobID]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// Wait blocks until every started job has finished.
func (j *Jobs) Wait() {
	j.wg.Wait()
}
