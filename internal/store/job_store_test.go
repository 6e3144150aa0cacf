package store_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sudoStacks/retreivr/internal/models"
	"github.com/sudoStacks/retreivr/internal/store"
	"github.com/sudoStacks/retreivr/internal/testutil"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(testutil.SetupTestDB(t))
}

func enqueueParams(url string) store.EnqueueParams {
	return store.EnqueueParams{
		Origin:      "manual",
		OriginID:    url,
		MediaType:   "audio",
		Source:      "youtube",
		URL:         url,
		MaxAttempts: 3,
	}
}

func TestEnqueueJobIdempotent(t *testing.T) {
	s := newTestStore(t)

	id1, created, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if !created {
		t.Error("expected first enqueue to create a row")
	}

	id2, created, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if created {
		t.Error("expected duplicate enqueue to be deduplicated")
	}
	if id1 != id2 {
		t.Errorf("expected same job ID, got %s and %s", id1, id2)
	}

	jobs, err := s.ListJobs("", 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job in the table, got %d", len(jobs))
	}
}

func TestEnqueueJobAfterTerminalCreatesNewJob(t *testing.T) {
	s := newTestStore(t)

	id1, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := s.MarkCompleted(id1); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	id2, created, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}
	if !created || id1 == id2 {
		t.Errorf("expected a fresh job after the previous one completed (created=%t id1=%s id2=%s)", created, id1, id2)
	}
}

func TestEnqueueJobRejectsInvalidParams(t *testing.T) {
	s := newTestStore(t)

	cases := []store.EnqueueParams{
		{Origin: "", Source: "youtube", URL: "https://example.com/v1"},
		{Origin: "manual", Source: "", URL: "https://example.com/v1"},
		{Origin: "manual", Source: "youtube", URL: "   "},
	}
	for _, p := range cases {
		if _, _, err := s.EnqueueJob(p); !errors.Is(err, store.ErrInvalidJob) {
			t.Errorf("expected ErrInvalidJob for %+v, got %v", p, err)
		}
	}
}

func TestClaimNextJobSingleWinner(t *testing.T) {
	s := newTestStore(t)

	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	const claimers = 10
	var wg sync.WaitGroup
	results := make(chan *models.DownloadJob, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.ClaimNextJob("youtube", time.Now())
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if job != nil {
				results <- job
			}
		}()
	}
	wg.Wait()
	close(results)

	var winners int
	for range results {
		winners++
	}
	if winners != 1 {
		t.Errorf("expected exactly one claimer to win, got %d", winners)
	}
}

func TestClaimNextJobOnePerSource(t *testing.T) {
	s := newTestStore(t)

	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v2")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	first, err := s.ClaimNextJob("youtube", time.Now())
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if first == nil {
		t.Fatal("expected first claim to return a job")
	}

	// The source now has a running job; nothing else may be claimed.
	second, err := s.ClaimNextJob("youtube", time.Now())
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if second != nil {
		t.Errorf("expected no claim while a job is running for the source, got %s", second.ID)
	}

	if err := s.MarkCompleted(first.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	third, err := s.ClaimNextJob("youtube", time.Now())
	if err != nil {
		t.Fatalf("third claim failed: %v", err)
	}
	if third == nil {
		t.Error("expected a claim after the running job completed")
	}
}

func TestClaimNextJobOrdersByCreation(t *testing.T) {
	s := newTestStore(t)

	id1, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // distinct created_at
	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v2")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job, err := s.ClaimNextJob("youtube", time.Now())
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job == nil || job.ID != id1 {
		t.Errorf("expected oldest job %s to be claimed first, got %+v", id1, job)
	}
}

func TestRecordFailureRetriesUntilExhausted(t *testing.T) {
	s := newTestStore(t)

	id, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Attempts 1 and 2 re-queue, attempt 3 exhausts the budget.
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := s.ClaimNextJob("youtube", time.Now())
		if err != nil {
			t.Fatalf("claim %d failed: %v", attempt, err)
		}
		if job == nil {
			t.Fatalf("claim %d returned no job", attempt)
		}
		status, err := s.RecordFailure(job, "network timeout", true, 0)
		if err != nil {
			t.Fatalf("RecordFailure %d failed: %v", attempt, err)
		}
		want := models.JobStatusQueued
		if attempt == 3 {
			want = models.JobStatusFailed
		}
		if status != want {
			t.Errorf("attempt %d: expected status %s, got %s", attempt, want, status)
		}
	}

	job, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", job.Attempts)
	}
	if job.Status != models.JobStatusFailed {
		t.Errorf("expected failed status, got %s", job.Status)
	}
	if job.LastError != "network timeout" {
		t.Errorf("expected last error preserved, got %q", job.LastError)
	}
}

func TestRecordFailurePermanentShortCircuits(t *testing.T) {
	s := newTestStore(t)

	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	job, err := s.ClaimNextJob("youtube", time.Now())
	if err != nil || job == nil {
		t.Fatalf("claim failed: job=%v err=%v", job, err)
	}

	status, err := s.RecordFailure(job, "HTTP Error 403: Forbidden", false, 0)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if status != models.JobStatusFailed {
		t.Errorf("expected permanent failure to be terminal, got %s", status)
	}

	got, _ := s.GetJob(job.ID)
	if got.Attempts != 1 {
		t.Errorf("expected a single attempt, got %d", got.Attempts)
	}
}

func TestRecordFailureDefersRetry(t *testing.T) {
	s := newTestStore(t)

	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	now := time.Now()
	job, err := s.ClaimNextJob("youtube", now)
	if err != nil || job == nil {
		t.Fatalf("claim failed: job=%v err=%v", job, err)
	}

	if _, err := s.RecordFailure(job, "timeout", true, time.Minute); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	// Not due yet.
	early, err := s.ClaimNextJob("youtube", now)
	if err != nil {
		t.Fatalf("early claim failed: %v", err)
	}
	if early != nil {
		t.Errorf("expected deferred job to be unclaimable before its retry time")
	}

	// Due once the retry delay has passed.
	late, err := s.ClaimNextJob("youtube", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("late claim failed: %v", err)
	}
	if late == nil {
		t.Error("expected deferred job to be claimable after the retry delay")
	}
}

func TestCancelJob(t *testing.T) {
	s := newTestStore(t)

	id, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	canceled, err := s.CancelJob(id, "user request")
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if !canceled {
		t.Fatal("expected queued job to be cancelable")
	}

	job, _ := s.GetJob(id)
	if job.Status != models.JobStatusCanceled {
		t.Errorf("expected canceled status, got %s", job.Status)
	}
	if job.CanceledAt == nil {
		t.Error("expected canceled_at to be set")
	}

	// Terminal jobs cannot be canceled again.
	canceled, err = s.CancelJob(id, "again")
	if err != nil {
		t.Fatalf("second CancelJob failed: %v", err)
	}
	if canceled {
		t.Error("expected cancel of a terminal job to report false")
	}
}

func TestCancelActiveJobs(t *testing.T) {
	s := newTestStore(t)

	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v2")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	completedID, _, err := s.EnqueueJob(enqueueParams("https://example.com/v3"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := s.MarkCompleted(completedID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	count, err := s.CancelActiveJobs("shutdown")
	if err != nil {
		t.Fatalf("CancelActiveJobs failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 jobs canceled, got %d", count)
	}

	completed, _ := s.GetJob(completedID)
	if completed.Status != models.JobStatusCompleted {
		t.Errorf("expected completed job untouched, got %s", completed.Status)
	}
}

func TestMarkCompletedIsIdempotentAndRespectsTerminalStates(t *testing.T) {
	s := newTestStore(t)

	id, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := s.CancelJob(id, "user request"); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	// Completion arriving after a cancel must not overwrite the canceled state.
	if err := s.MarkCompleted(id); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	job, _ := s.GetJob(id)
	if job.Status != models.JobStatusCanceled {
		t.Errorf("expected canceled to stick, got %s", job.Status)
	}
}

func TestRecordFailureRespectsTerminalStates(t *testing.T) {
	s := newTestStore(t)

	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	job, err := s.ClaimNextJob("youtube", time.Now())
	if err != nil || job == nil {
		t.Fatalf("claim failed: job=%v err=%v", job, err)
	}

	// The job gets canceled while the download is still in flight; the
	// failure report arrives afterwards and must lose.
	if _, err := s.CancelJob(job.ID, "user request"); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	status, err := s.RecordFailure(job, "network timeout", true, time.Minute)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if status != models.JobStatusCanceled {
		t.Errorf("expected the canceled status to be reported, got %s", status)
	}
	got, _ := s.GetJob(job.ID)
	if got.Status != models.JobStatusCanceled {
		t.Errorf("canceled job transitioned to %s; terminal states must never transition", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("expected attempts untouched on a terminal row, got %d", got.Attempts)
	}

	// Same for the non-retryable path against a completed row.
	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v2")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	job, err = s.ClaimNextJob("youtube", time.Now())
	if err != nil || job == nil {
		t.Fatalf("claim failed: job=%v err=%v", job, err)
	}
	if err := s.MarkCompleted(job.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	status, err = s.RecordFailure(job, "HTTP Error 403: Forbidden", false, 0)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if status != models.JobStatusCompleted {
		t.Errorf("expected the completed status to be reported, got %s", status)
	}
	got, _ = s.GetJob(job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Errorf("completed job transitioned to %s", got.Status)
	}
}

func TestRequeueRunningJobs(t *testing.T) {
	s := newTestStore(t)

	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	job, err := s.ClaimNextJob("youtube", time.Now())
	if err != nil || job == nil {
		t.Fatalf("claim failed: job=%v err=%v", job, err)
	}

	n, err := s.RequeueRunningJobs()
	if err != nil {
		t.Fatalf("RequeueRunningJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 requeued job, got %d", n)
	}

	got, _ := s.GetJob(job.ID)
	if got.Status != models.JobStatusQueued {
		t.Errorf("expected queued status after requeue, got %s", got.Status)
	}
	if got.RunningAt != nil {
		t.Error("expected running_at cleared after requeue")
	}
}

func TestListSourcesWithQueuedJobs(t *testing.T) {
	s := newTestStore(t)

	p1 := enqueueParams("https://example.com/v1")
	p2 := enqueueParams("https://soundcloud.com/t1")
	p2.Source = "soundcloud"
	if _, _, err := s.EnqueueJob(p1); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, _, err := s.EnqueueJob(p2); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	sources, err := s.ListSourcesWithQueuedJobs(time.Now())
	if err != nil {
		t.Fatalf("ListSourcesWithQueuedJobs failed: %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("expected 2 sources, got %v", sources)
	}
}

func TestGetJobMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	job, err := s.GetJob("does-not-exist")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil for unknown job, got %+v", job)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	s := newTestStore(t)

	id, _, err := s.EnqueueJob(enqueueParams("https://example.com/v1"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, _, err := s.EnqueueJob(enqueueParams("https://example.com/v2")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := s.MarkCompleted(id); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	queued, err := s.ListJobs(models.JobStatusQueued, 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(queued) != 1 {
		t.Errorf("expected 1 queued job, got %d", len(queued))
	}
	completed, err := s.ListJobs(models.JobStatusCompleted, 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(completed) != 1 {
		t.Errorf("expected 1 completed job, got %d", len(completed))
	}
}
