package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
)

// Syncer runs one reconciliation for a channel.
type Syncer interface {
	Sync(ctx context.Context, channelID string) (models.RunSummary, error)
}

// Archiver stores the record of a finished job.
type Archiver interface {
	ArchiveRun(ctx context.Context, job models.SyncJob) error
}

// QueueConfig controls the concurrency characteristics of the queue.
type QueueConfig struct {
	QueueSize  int
	Workers    int
	RunTimeout time.Duration
}

// Queue runs sync jobs on a fixed pool of workers. Jobs for different
// channels run in parallel; jobs for the same channel are not serialized.
type Queue struct {
	syncer   Syncer
	tracker  *JobTracker
	archive  Archiver
	observer Observer
	logger   *slog.Logger
	timeout  time.Duration

	jobs    chan models.SyncJob
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}

	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

// NewQueue starts the worker pool. archive and observer may be nil.
func NewQueue(syncer Syncer, tracker *JobTracker, archive Archiver, observer Observer, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if tracker == nil {
		tracker = NewJobTracker(0)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		syncer:     syncer,
		tracker:    tracker,
		archive:    archive,
		observer:   observer,
		logger:     logger,
		timeout:    cfg.RunTimeout,
		jobs:       make(chan models.SyncJob, cfg.QueueSize),
		stopped:    make(chan struct{}),
		runCtx:     runCtx,
		cancelRuns: cancel,
	}

	q.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker()
	}

	return q
}

// Enqueue schedules a sync of the channel and returns the queued job without
// waiting for it to run.
func (q *Queue) Enqueue(ctx context.Context, channelID string) (models.SyncJob, error) {
	if err := ctx.Err(); err != nil {
		return models.SyncJob{}, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return models.SyncJob{}, ErrQueueClosed
	}

	job := q.tracker.Create(channelID)
	select {
	case q.jobs <- job:
		q.observer.ObserveQueueDepth(len(q.jobs))
		logging.FromContext(ctx).Info("sync job queued", slog.String("job_id", job.ID), slog.String("channel_id", channelID))
		return job, nil
	default:
		q.tracker.Remove(job.ID)
		return models.SyncJob{}, ErrQueueFull
	}
}

// Job returns the current state of a job.
func (q *Queue) Job(id string) (models.SyncJob, bool) {
	return q.tracker.Get(id)
}

// Shutdown stops accepting jobs, cancels the ones that have not started and
// waits for running ones. If ctx ends first the running jobs are cancelled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.stopped)
		close(q.jobs)
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		q.cancelRuns()
		return ctx.Err()
	case <-done:
		q.cancelRuns()
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for job := range q.jobs {
		select {
		case <-q.stopped:
			q.tracker.Cancel(job.ID)
			q.logger.Info("sync job cancelled before start", slog.String("job_id", job.ID), slog.String("channel_id", job.ChannelID))
			continue
		default:
		}
		q.handleJob(job)
	}
}

func (q *Queue) handleJob(job models.SyncJob) {
	ctx, cancel := context.WithTimeout(q.runCtx, q.timeout)
	defer cancel()

	ctx = logging.WithJob(logging.WithLogger(ctx, q.logger), job.ID, job.ChannelID)
	logger := logging.FromContext(ctx)

	q.tracker.Start(job.ID)
	q.observer.ObserveQueueDepth(len(q.jobs))

	summary, err := q.syncer.Sync(ctx, job.ChannelID)
	finished := q.tracker.Finish(job.ID, summary, err)
	if err != nil {
		logger.Error("sync job failed", slog.String("code", finished.ErrorCode), slog.Any("error", err))
	} else {
		logger.Info("sync job succeeded", slog.String("summary", finished.Message))
	}

	if q.archive == nil {
		return
	}
	archiveCtx, cancelArchive := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelArchive()
	if err := q.archive.ArchiveRun(archiveCtx, finished); err != nil {
		logger.Warn("archive sync job", slog.Any("error", err))
	}
}
