package outboxworker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/config"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/usecase"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

const (
	storeCallTimeout   = 10 * time.Second
	drainTimeout       = 30 * time.Second
	maxLastErrorLength = 2000
)

// Worker claims due outbox jobs and runs them on a bounded pool.
type Worker struct {
	cfg       config.OutboxConfig
	id        string
	logger    *zap.Logger
	store     storage.OutboxRepo
	processor usecase.JobProcessor
	pool      *ants.Pool
	stopWg    sync.WaitGroup
	cancel    context.CancelFunc
}

// NewWorker creates a worker with its own ants pool. cfg.WorkerID defaults to
// hostname plus a random suffix.
func NewWorker(cfg config.OutboxConfig, store storage.OutboxRepo, processor usecase.JobProcessor, logger *zap.Logger) (*Worker, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.PoolSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultWorkerID()
	}

	named := logger.Named("outbox_worker").With(zap.String("worker_id", cfg.WorkerID))
	pool, err := ants.NewPool(cfg.PoolSize,
		ants.WithLogger(newAntsLoggerAdapter(named.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			named.Error("Worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
		ants.WithNonblocking(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	w := &Worker{
		cfg:       cfg,
		id:        cfg.WorkerID,
		logger:    named,
		store:     store,
		processor: processor,
		pool:      pool,
	}
	w.logger.Info("Outbox worker initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("poll_interval", cfg.PollInterval))
	return w, nil
}

// ID returns the identifier written to claimed_by.
func (w *Worker) ID() string {
	return w.id
}

// Start runs the poll and sweep loops until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Starting outbox worker...")

	w.stopWg.Add(1)
	go w.pollLoop(derivedCtx)

	if w.cfg.SweepInterval > 0 && w.cfg.StaleAfter > 0 {
		w.stopWg.Add(1)
		go w.sweepLoop(derivedCtx)
	}

	<-derivedCtx.Done()
	w.logger.Info("Outbox worker context cancelled, initiating shutdown...")
	return nil
}

// Stop halts claiming and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.logger.Info("Stopping outbox worker...")
	if w.cancel != nil {
		w.cancel()
	}

	w.stopWg.Wait()
	w.logger.Info("Poll and sweep loops stopped")

	if err := w.pool.ReleaseTimeout(drainTimeout); err != nil {
		w.logger.Warn("Worker pool did not drain before timeout, claimed jobs will be released by the stale sweep", zap.Error(err))
	}
	w.logger.Info("Outbox worker stopped successfully")
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.stopWg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		observer.SetWorkersActive(w.pool.Running())
		select {
		case <-ctx.Done():
			w.logger.Info("Poll loop stopping due to context cancellation")
			return
		case <-ticker.C:
			if _, err := w.PollOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Claim failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	defer w.stopWg.Done()
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sweep loop stopping due to context cancellation")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// PollOnce claims as many due jobs as the pool has room for and submits them.
// It returns the number of jobs handed to the pool.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	limit := w.cfg.BatchSize
	if free := w.pool.Free(); free >= 0 && free < limit {
		limit = free
	}
	if limit <= 0 {
		return 0, nil
	}

	jobs, err := w.store.ClaimBatch(ctx, w.id, limit)
	if err != nil {
		observer.IncClaimError()
		return 0, err
	}
	observer.AddJobsClaimed(len(jobs))
	if len(jobs) > 0 {
		w.logger.Debug("Claimed jobs", zap.Int("count", len(jobs)))
	}

	submitted := 0
	for i := range jobs {
		job := jobs[i]
		if err := w.pool.Submit(func() { w.execute(&job) }); err != nil {
			w.logger.Error("Failed to submit job to ants pool", zap.String("job_id", job.ID), zap.Error(err))
			observer.IncTasksDropped()
			w.finish(job.ID, func(sctx context.Context) error {
				return w.store.Fail(sctx, job.ID, "worker pool rejected job: "+err.Error(), w.cfg.PollInterval)
			})
			continue
		}
		submitted++
	}
	return submitted, nil
}

// Sweep returns claimed jobs whose worker went silent to pending.
func (w *Worker) Sweep(ctx context.Context) {
	released, err := w.store.ReleaseStale(ctx, w.cfg.StaleAfter)
	if err != nil {
		w.logger.Error("Failed to release stale claims", zap.Error(err))
		return
	}
	observer.AddStaleReleased(released)
	if released > 0 {
		w.logger.Warn("Released stale claimed jobs", zap.Int64("count", released))
	}
}

// execute runs one job and records its outcome. The job context is detached
// from the loop so shutdown lets in-flight work finish.
func (w *Worker) execute(job *model.OutboxJob) {
	start := time.Now()
	jobType := string(job.JobType)
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("job_type", jobType),
		zap.String("tenant_id", job.TenantID),
		zap.Int("attempts", job.Attempts),
	)

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	err := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		return w.processor.Process(ctx, job)
	})(ctx)
	cancel()
	observer.ObserveJobDuration(jobType, time.Since(start))

	switch {
	case err == nil:
		observer.IncJobFinished(jobType, job.TenantID, "completed", "")
		log.Debug("Job completed")
		w.finish(job.ID, func(sctx context.Context) error {
			return w.store.Complete(sctx, job.ID)
		})

	case apperrors.IsTerminal(err):
		observer.IncJobFinished(jobType, job.TenantID, "failed", err.Error())
		log.Warn("Job failed terminally", zap.Error(err))
		w.finish(job.ID, func(sctx context.Context) error {
			return w.store.FailTerminal(sctx, job.ID, truncate(err.Error()))
		})

	default:
		delay := Backoff(job.Attempts+1, w.cfg.BaseBackoff, w.cfg.MaxBackoff)
		observer.IncJobFinished(jobType, job.TenantID, "retry", err.Error())
		log.Warn("Job failed, scheduling retry", zap.Duration("retry_in", delay), zap.Error(err))
		w.finish(job.ID, func(sctx context.Context) error {
			return w.store.Fail(sctx, job.ID, truncate(err.Error()), delay)
		})
	}
}

// finish applies a state transition with its own deadline. If it fails the
// job stays claimed and the stale sweep picks it up.
func (w *Worker) finish(jobID string, transition func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()
	if err := transition(ctx); err != nil {
		w.logger.Error("Failed to record job outcome", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Backoff returns the retry delay for the given attempt number (1-based):
// base doubled per attempt and capped at max. It never decreases with attempt
// and never overflows.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt <= 1 {
		return base
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	return delay
}

// truncate caps s at maxLastErrorLength bytes without splitting a UTF-8
// sequence, since postgres rejects invalid text.
func truncate(s string) string {
	if len(s) <= maxLastErrorLength {
		return s
	}
	cut := maxLastErrorLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
