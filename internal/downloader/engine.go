// The worker engine drains the download job queue. It polls for sources with
// due work and runs at most one job per source at a time, so a slow or
// rate-limited upstream can never be hit with concurrent requests and never
// starves the other sources.

package downloader

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sudoStacks/retreivr/internal/models"
	"github.com/sudoStacks/retreivr/internal/store"
	"github.com/sudoStacks/retreivr/internal/websocket"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultRetryDelay   = 60 * time.Second
)

// Engine polls the job store and executes claimed jobs through the adapter.
type Engine struct {
	st      *store.Store
	adapter Adapter
	hub     *websocket.Hub

	pollInterval time.Duration
	retryDelay   time.Duration

	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	stop     chan struct{}
	stopOnce sync.Once
	loopWG   sync.WaitGroup
	execWG   sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithPollInterval overrides the queue poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithRetryDelay overrides the delay before a retryable failure re-enters the
// claimable pool.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// NewEngine creates a worker engine. The hub may be nil; progress broadcasts
// are then skipped.
func NewEngine(st *store.Store, adapter Adapter, hub *websocket.Hub, opts ...Option) *Engine {
	e := &Engine{
		st:           st,
		adapter:      adapter,
		hub:          hub,
		pollInterval: defaultPollInterval,
		retryDelay:   defaultRetryDelay,
		sourceLocks:  make(map[string]*sync.Mutex),
		cancels:      make(map[string]context.CancelFunc),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start requeues jobs stranded in running by a previous process and launches
// the poll loop.
func (e *Engine) Start() {
	if n, err := e.st.RequeueRunningJobs(); err != nil {
		log.Printf("Worker: failed to requeue stranded jobs: %v", err)
	} else if n > 0 {
		log.Printf("Worker: requeued %d stranded running jobs", n)
	}

	e.loopWG.Add(1)
	go func() {
		defer e.loopWG.Done()
		log.Println("Worker: queue polling started")
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()
		for {
			e.runOnce()
			select {
			case <-e.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the poll loop, cancels in-flight executions and waits for them
// to wind down.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.loopWG.Wait()

	e.cancelMu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancelMu.Unlock()
	e.execWG.Wait()
	log.Println("Worker: stopped")
}

// runOnce evaluates every source with due work and spawns one execution unit
// per source whose lock is free. The loop itself never blocks on a download.
func (e *Engine) runOnce() {
	sources, err := e.st.ListSourcesWithQueuedJobs(time.Now())
	if err != nil {
		log.Printf("Worker: failed to list sources with queued jobs: %v", err)
		return
	}

	for _, source := range sources {
		select {
		case <-e.stop:
			return
		default:
		}
		lock := e.sourceLock(source)
		if !lock.TryLock() {
			continue // a job for this source is still in flight
		}
		e.execWG.Add(1)
		go e.runSource(source, lock)
	}
}

// sourceLock returns the lock for a source, creating it on first sight.
// Locks are never removed: dropping one would let a freshly created lock
// bypass an in-flight holder.
func (e *Engine) sourceLock(source string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock := e.sourceLocks[source]
	if lock == nil {
		lock = &sync.Mutex{}
		e.sourceLocks[source] = lock
	}
	return lock
}

func (e *Engine) runSource(source string, lock *sync.Mutex) {
	defer e.execWG.Done()
	defer lock.Unlock()

	job, err := e.st.ClaimNextJob(source, time.Now())
	if err != nil {
		log.Printf("Worker: claim failed for source %s: %v", source, err)
		return
	}
	if job == nil {
		return
	}
	log.Printf("Worker: claimed job %s (source=%s trace=%s)", job.ID, job.Source, job.TraceID)
	e.executeJob(job)
}

// executeJob invokes the adapter and reports the outcome back to the store.
// Panics inside the adapter are contained here and recorded as failures so a
// misbehaving source can never take down the poll loop.
func (e *Engine) executeJob(job *models.DownloadJob) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("adapter panic: %v", r)
			log.Printf("Worker: job %s panicked: %v", job.ID, r)
			e.recordFailure(job, err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	e.registerCancel(job.ID, cancel)
	defer e.unregisterCancel(job.ID)
	defer cancel()

	finalPath, metadata, err := e.adapter.Execute(ctx, job)

	if ctx.Err() == context.Canceled {
		// The job was canceled while the adapter was working. Whatever the
		// adapter returned, the canceled row already carries the outcome.
		log.Printf("Worker: job %s canceled mid-flight, discarding result", job.ID)
		e.broadcast(job, "Download canceled", models.JobStatusCanceled, true)
		return
	}

	if err != nil {
		e.recordFailure(job, err)
		return
	}

	title := metadata["title"]
	if recErr := e.st.RecordDownload(job, title, finalPath); recErr != nil {
		log.Printf("Worker: failed to record history for job %s: %v", job.ID, recErr)
	}
	if job.Origin != "" && job.OriginID != "" {
		// Sticky downloaded flag in the seen ledger keeps full-mode polls from
		// re-detecting items that are already archived.
		if err := e.st.MarkItemSeen(job.Origin, job.OriginID, true); err != nil {
			log.Printf("Worker: failed to update seen ledger for job %s: %v", job.ID, err)
		}
	}
	if err := e.st.MarkCompleted(job.ID); err != nil {
		log.Printf("Worker: failed to mark job %s completed: %v", job.ID, err)
		return
	}
	log.Printf("Worker: job %s completed (path=%s)", job.ID, finalPath)
	e.broadcast(job, "Download finished successfully.", models.JobStatusCompleted, true)
}

func (e *Engine) recordFailure(job *models.DownloadJob, err error) {
	retryable := IsRetryable(err)
	status, storeErr := e.st.RecordFailure(job, err.Error(), retryable, e.retryDelay)
	if storeErr != nil {
		log.Printf("Worker: failed to record failure for job %s: %v", job.ID, storeErr)
		return
	}
	log.Printf("Worker: job %s failed (retryable=%t status=%s): %v", job.ID, retryable, status, err)
	switch status {
	case models.JobStatusQueued:
		e.broadcast(job, fmt.Sprintf("Download failed, will retry: %v", err), models.JobStatusQueued, false)
	case models.JobStatusCanceled:
		// The job was canceled while the adapter was failing; the cancel wins.
		e.broadcast(job, "Download canceled", models.JobStatusCanceled, true)
	default:
		e.broadcast(job, fmt.Sprintf("Download failed: %v", err), models.JobStatusFailed, true)
	}
}

// CancelJob cancels a job: the row is marked canceled and, if the job is in
// flight, its adapter context is canceled best-effort.
func (e *Engine) CancelJob(jobID, reason string) (bool, error) {
	canceled, err := e.st.CancelJob(jobID, reason)
	if err != nil {
		return false, err
	}
	if !canceled {
		return false, nil
	}
	e.cancelMu.Lock()
	if cancel, ok := e.cancels[jobID]; ok {
		cancel()
	}
	e.cancelMu.Unlock()
	return true, nil
}

func (e *Engine) registerCancel(jobID string, cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancels[jobID] = cancel
	e.cancelMu.Unlock()
}

func (e *Engine) unregisterCancel(jobID string) {
	e.cancelMu.Lock()
	delete(e.cancels, jobID)
	e.cancelMu.Unlock()
}

func (e *Engine) broadcast(job *models.DownloadJob, message, status string, done bool) {
	if e.hub == nil {
		return
	}
	e.hub.BroadcastJSON(models.ProgressUpdate{
		JobID:   job.ID,
		TraceID: job.TraceID,
		Source:  job.Source,
		Message: message,
		Status:  status,
		Done:    done,
	})
}
