package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commco/backend/internal/models"
)

const defaultJobHistory = 1000

// JobTracker keeps the status of recent sync jobs in memory. Once more than
// limit jobs are tracked the oldest finished ones are forgotten.
type JobTracker struct {
	mu    sync.Mutex
	jobs  map[string]*models.SyncJob
	order []string
	limit int
	now   func() time.Time
}

// NewJobTracker constructs a tracker holding at most limit jobs.
func NewJobTracker(limit int) *JobTracker {
	if limit <= 0 {
		limit = defaultJobHistory
	}
	return &JobTracker{
		jobs:  make(map[string]*models.SyncJob),
		limit: limit,
		now:   time.Now,
	}
}

// Create registers a queued job for the channel.
func (t *JobTracker) Create(channelID string) models.SyncJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := &models.SyncJob{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		Status:     models.JobStatusQueued,
		EnqueuedAt: t.now().UTC(),
	}
	t.jobs[job.ID] = job
	t.order = append(t.order, job.ID)
	t.evict()
	return *job
}

// Get returns a snapshot of the job.
func (t *JobTracker) Get(id string) (models.SyncJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return models.SyncJob{}, false
	}
	return *job, true
}

// Start marks the job running.
func (t *JobTracker) Start(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job, ok := t.jobs[id]; ok {
		started := t.now().UTC()
		job.Status = models.JobStatusRunning
		job.StartedAt = &started
	}
}

// Finish records the outcome of a run and returns the final snapshot.
func (t *JobTracker) Finish(id string, summary models.RunSummary, err error) models.SyncJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return models.SyncJob{}
	}

	finished := t.now().UTC()
	job.FinishedAt = &finished
	switch code := ErrorCode(err); code {
	case "":
		job.Status = models.JobStatusSucceeded
		job.Summary = &summary
		job.Message = summary.String()
	case CodeCancelled:
		job.Status = models.JobStatusCancelled
		job.ErrorCode = code
		job.Error = err.Error()
	default:
		job.Status = models.JobStatusFailed
		job.ErrorCode = code
		job.Error = err.Error()
	}
	return *job
}

// Cancel marks a job that never started as cancelled.
func (t *JobTracker) Cancel(id string) models.SyncJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return models.SyncJob{}
	}
	finished := t.now().UTC()
	job.Status = models.JobStatusCancelled
	job.ErrorCode = CodeCancelled
	job.FinishedAt = &finished
	return *job
}

// Remove forgets a job, used when it could not be queued at all.
func (t *JobTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.jobs, id)
	for i, jobID := range t.order {
		if jobID == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *JobTracker) evict() {
	for i := 0; len(t.order) > t.limit && i < len(t.order); {
		job := t.jobs[t.order[i]]
		if job != nil && !job.Finished() {
			i++
			continue
		}
		delete(t.jobs, t.order[i])
		t.order = append(t.order[:i], t.order[i+1:]...)
	}
}
