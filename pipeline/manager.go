// Package pipeline runs upload jobs: frame acquisition, detection,
// annotation, reassembly, summary metrics and alert evaluation. Each job
// executes on a dedicated worker so long video jobs never block the
// request-handling path.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crowd-density/alerting"
	"crowd-density/common"
	"crowd-density/common/config"
	"crowd-density/detect"
	"crowd-density/store"
	"crowd-density/telemetry"
)

// AlertNotifier receives alerts the evaluator opens. Implementations must
// not block the pipeline.
type AlertNotifier interface {
	AlertOpened(alert *store.Alert, zone *store.Zone)
}

// Manager owns the worker pool and the in-flight job registry.
type Manager struct {
	settings  *config.Settings
	store     *store.DataStore
	detector  detect.Detector
	evaluator *alerting.Evaluator
	notifier  AlertNotifier
	logger    *zap.Logger

	queue  chan string
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]*jobHandle
}

// jobHandle tracks one accepted job until its terminal state.
type jobHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager wires the pipeline. notifier may be nil.
func NewManager(settings *config.Settings, ds *store.DataStore, detector detect.Detector,
	evaluator *alerting.Evaluator, notifier AlertNotifier, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		settings:  settings,
		store:     ds,
		detector:  detector,
		evaluator: evaluator,
		notifier:  notifier,
		logger:    logger,
		queue:     make(chan string, 64),
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[string]*jobHandle),
	}
}

// Start launches the configured number of workers.
func (m *Manager) Start() {
	for i := 0; i < m.settings.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.logger.Info("pipeline started", zap.Int("workers", m.settings.WorkerCount))
}

// Stop cancels in-flight jobs and waits for workers to drain.
func (m *Manager) Stop() {
	m.cancel()
	close(m.queue)
	m.wg.Wait()
	m.logger.Info("pipeline stopped")
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for jobID := range m.queue {
		m.runJob(jobID)
	}
}

// Submit persists a new PENDING job and hands it to a worker.
func (m *Manager) Submit(job *store.UploadJob) error {
	if err := m.store.CreateJob(job); err != nil {
		return err
	}

	jobCtx, jobCancel := context.WithCancel(m.ctx)
	handle := &jobHandle{ctx: jobCtx, cancel: jobCancel, done: make(chan struct{})}
	m.mu.Lock()
	m.inflight[job.ID] = handle
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		m.finish(job.ID)
		jobCancel()
		err := fmt.Errorf("job queue is full")
		m.jobFailed(job, err)
		return err
	}

	telemetry.JobsStarted.WithLabelValues(string(job.MediaKind)).Inc()
	return nil
}

// Cancel requests cancellation of an in-flight job. The job stops between
// frame-processing steps, never mid-frame.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	handle, ok := m.inflight[jobID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not in flight", jobID)
	}
	handle.cancel()
	return nil
}

// Wait blocks until the job reaches a terminal state or the timeout
// elapses, then returns the stored job. This blocking intake mode matches
// the source system; polling GetJob is the preferred alternative.
func (m *Manager) Wait(jobID string, timeout time.Duration) (store.UploadJob, error) {
	m.mu.Lock()
	handle, ok := m.inflight[jobID]
	m.mu.Unlock()

	if ok {
		select {
		case <-handle.done:
		case <-time.After(timeout):
			return store.UploadJob{}, fmt.Errorf("timed out waiting for job %s", jobID)
		}
	}
	return m.store.GetJob(jobID)
}

// jobContext returns the cancellation context for an in-flight job.
func (m *Manager) jobContext(jobID string) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handle, ok := m.inflight[jobID]; ok {
		return handle.ctx
	}
	return m.ctx
}

// finish signals completion and drops the job from the registry.
func (m *Manager) finish(jobID string) {
	m.mu.Lock()
	handle, ok := m.inflight[jobID]
	if ok {
		delete(m.inflight, jobID)
	}
	m.mu.Unlock()
	if ok {
		close(handle.done)
	}
}

// evaluateAlerts runs the threshold state machine once per job summary.
func (m *Manager) evaluateAlerts(job *store.UploadJob, detectionID *uint) {
	if job.ZoneID == nil || job.AvgDensity == nil {
		return
	}
	zone, err := m.store.GetZone(*job.ZoneID)
	if err != nil {
		m.logger.Warn("alert evaluation skipped, zone lookup failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	result, err := m.evaluator.Evaluate(&zone, *job.AvgDensity, detectionID)
	if err != nil {
		m.logger.Error("alert evaluation failed",
			zap.String("job_id", job.ID), zap.Uint("zone_id", zone.ID), zap.Error(err))
		return
	}

	if open, err := m.store.CountOpenAlerts(); err == nil {
		telemetry.OpenAlerts.Set(float64(open))
	}

	if result.Opened != nil && m.notifier != nil {
		m.notifier.AlertOpened(result.Opened, &zone)
	}
}

// jobFailed marks a job FAILED with its taxonomy code and human-readable
// message. No partial artifact is ever surfaced on this path.
func (m *Manager) jobFailed(job *store.UploadJob, err error) {
	job.Status = common.JobFailed
	job.ReasonCode = common.ReasonOf(err)
	job.Message = err.Error()
	job.ProcessedPath = ""
	if saveErr := m.store.SaveJob(job); saveErr != nil {
		m.logger.Error("persisting failed job state", zap.String("job_id", job.ID), zap.Error(saveErr))
	}
	telemetry.JobsFailed.WithLabelValues(string(job.ReasonCode)).Inc()
	m.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("reason", string(job.ReasonCode)),
		zap.String("message", job.Message))
}
