package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Ranker produces the ranked rows for one snapshot generation. Implemented by
// the feed service: wide-scope candidate selection plus scoring, capped at
// maxRows, best first.
type Ranker interface {
	RankSnapshot(ctx context.Context, asOf time.Time, maxRows int) ([]Row, error)
}

// JobMetrics provides centralized background job metrics tracking.
// This interface allows the job to report to the centralized job metrics system.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// JobConfig configures the snapshot batch job.
type JobConfig struct {
	// Interval is the duration between batch runs.
	Interval time.Duration
	// Retention is how long old generations are kept for clients mid-scroll.
	Retention time.Duration
	// MaxRows caps the size of one generation.
	MaxRows int
	// Timeout bounds a single batch run.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for batch-specific tracking.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
	// Now overrides the clock (for testing).
	Now func() time.Time
}

// Defaults for the snapshot batch job.
const (
	DefaultInterval  = 10 * time.Minute
	DefaultRetention = time.Hour
	DefaultMaxRows   = 15000
	DefaultTimeout   = 2 * time.Minute

	// bootstrapFactor decides whether the latest generation is fresh enough
	// at startup: a generation older than bootstrapFactor * Interval triggers
	// an immediate batch before the first tick.
	bootstrapFactor = 1.2

	jobTypeSnapshotBatch = "snapshot_batch"
)

// Job periodically recomputes the trending snapshot.
type Job struct {
	config JobConfig
	store  Store
	ranker Ranker
	lock   BatchLock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJob creates a new snapshot batch job.
func NewJob(config JobConfig, store Store, ranker Ranker, lock BatchLock) *Job {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Retention == 0 {
		config.Retention = DefaultRetention
	}
	if config.MaxRows == 0 {
		config.MaxRows = DefaultMaxRows
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if lock == nil {
		lock = NewFlagLock()
	}

	return &Job{
		config: config,
		store:  store,
		ranker: ranker,
		lock:   lock,
	}
}

// Start begins the periodic batch job. Returns immediately; the job runs in a
// background goroutine. If the latest generation is older than 1.2x the
// interval (or absent), a batch runs before the first tick.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the batch job to stop and waits for it to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job loop is active.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// run is the main loop for the batch job.
func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	if j.shouldBootstrap(ctx) {
		j.runScheduled(ctx)
	}

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("snapshot batch job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("snapshot batch job stopping due to stop signal")
			return
		case <-ticker.C:
			j.runScheduled(ctx)
		}
	}
}

// shouldBootstrap reports whether the latest generation is stale enough to
// warrant an immediate batch at startup.
func (j *Job) shouldBootstrap(ctx context.Context) bool {
	latest, ok, err := j.store.LatestAsOf(ctx)
	if err != nil {
		j.config.Logger.Error("failed to check latest snapshot generation",
			"error", err)
		return false
	}
	if !ok {
		return true
	}

	maxAge := time.Duration(float64(j.config.Interval) * bootstrapFactor)
	return j.config.Now().Sub(latest) > maxAge
}

// runScheduled wraps RunOnce for the ticker path: failures are logged and
// counted, never escalated, and the previous generation keeps serving reads.
func (j *Job) runScheduled(parentCtx context.Context) {
	wrote, err := j.RunOnce(parentCtx)
	if err != nil {
		j.config.Logger.Error("snapshot batch failed",
			"error", err)
		return
	}
	if !wrote {
		j.config.Logger.Debug("snapshot batch skipped, another batch is running")
	}
}

// RunOnce executes one snapshot batch. Returns true when a new generation was
// written, false when the batch lock was held (a batch is already running,
// which is a no-op, not an error). Safe to call concurrently with the
// scheduled loop; the batch lock serializes them.
func (j *Job) RunOnce(parentCtx context.Context) (bool, error) {
	acquired, err := j.lock.TryAcquire(parentCtx)
	if err != nil {
		j.recordFailure("lock_error")
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if err := j.lock.Release(parentCtx); err != nil {
			j.config.Logger.Warn("failed to release batch lock",
				"error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	startTime := time.Now()
	asOf := j.config.Now()

	rows, err := j.ranker.RankSnapshot(ctx, asOf, j.config.MaxRows)
	if err != nil {
		j.recordFailure("rank_error")
		j.observeRun(startTime, "failure")
		return false, err
	}

	retainAfter := asOf.Add(-j.config.Retention)
	if err := j.store.ReplaceGeneration(ctx, asOf, rows, retainAfter); err != nil {
		j.recordFailure("store_error")
		j.observeRun(startTime, "failure")
		return false, err
	}

	duration := time.Since(startTime).Seconds()
	if j.config.Metrics != nil {
		j.config.Metrics.IncBatchTotal()
		j.config.Metrics.SetLastBatchTimestamp(float64(asOf.Unix()))
		j.config.Metrics.SetLastGenerationRows(float64(len(rows)))
	}
	j.observeRun(startTime, "success")

	j.config.Logger.Info("snapshot batch completed",
		"as_of", asOf,
		"rows", len(rows),
		"duration_seconds", duration)

	return true, nil
}

// recordFailure counts a failed batch in both metric sinks.
func (j *Job) recordFailure(errorType string) {
	if j.config.Metrics != nil {
		j.config.Metrics.IncBatchErrors()
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobErrors(jobTypeSnapshotBatch, errorType)
	}
}

// observeRun records duration and completion status for one run.
func (j *Job) observeRun(startTime time.Time, status string) {
	duration := time.Since(startTime).Seconds()
	if j.config.Metrics != nil {
		j.config.Metrics.ObserveBatchDuration(duration)
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobTypeSnapshotBatch, status)
		j.config.JobMetrics.ObserveJobDuration(jobTypeSnapshotBatch, duration)
	}
}
