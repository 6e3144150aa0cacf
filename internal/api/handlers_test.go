package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sudoStacks/retreivr/internal/models"
	"github.com/sudoStacks/retreivr/internal/store"
	"github.com/sudoStacks/retreivr/internal/testutil"
)

func enqueueBody(url string) *bytes.Buffer {
	body, _ := json.Marshal(map[string]string{
		"origin": "manual",
		"source": "youtube",
		"url":    url,
	})
	return bytes.NewBuffer(body)
}

func TestVersionEndpoint(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/api/version", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["version"] == "" {
		t.Error("expected a version string")
	}
}

func TestEnqueueJobEndpoint(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/jobs", enqueueBody("https://example.com/v1")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		JobID   string `json:"job_id"`
		Created bool   `json:"created"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if created.JobID == "" || !created.Created {
		t.Errorf("unexpected response: %+v", created)
	}

	// The duplicate is absorbed and answered with the existing job.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/jobs", enqueueBody("https://example.com/v1")))
	if rr.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rr.Code)
	}
	var dup struct {
		JobID   string `json:"job_id"`
		Created bool   `json:"created"`
	}
	json.Unmarshal(rr.Body.Bytes(), &dup)
	if dup.Created || dup.JobID != created.JobID {
		t.Errorf("expected dedup to return the original job, got %+v", dup)
	}

	// Missing required fields are rejected.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/jobs", bytes.NewBufferString(`{"origin":"manual"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid job status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/jobs", bytes.NewBufferString("not json")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rr.Code)
	}
}

func TestGetAndListJobsEndpoints(t *testing.T) {
	server, st := testutil.SetupTestServer(t)
	router := server.Router()

	id, _, err := st.EnqueueJob(store.EnqueueParams{Origin: "manual", Source: "youtube", URL: "https://example.com/v1"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/jobs/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rr.Code)
	}
	var job models.DownloadJob
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if job.ID != id || job.Status != models.JobStatusQueued {
		t.Errorf("unexpected job: %+v", job)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/jobs/unknown-id", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", fmt.Sprintf("/api/jobs?status=%s", models.JobStatusQueued), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rr.Code)
	}
	var jobs []*models.DownloadJob
	if err := json.Unmarshal(rr.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 queued job, got %d", len(jobs))
	}
}

func TestCancelJobEndpoints(t *testing.T) {
	server, st := testutil.SetupTestServer(t)
	router := server.Router()

	id, _, err := st.EnqueueJob(store.EnqueueParams{Origin: "manual", Source: "youtube", URL: "https://example.com/v1"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/jobs/"+id+"/cancel", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", rr.Code)
	}
	job, _ := st.GetJob(id)
	if job.Status != models.JobStatusCanceled {
		t.Errorf("job status = %s, want canceled", job.Status)
	}

	// Canceling a terminal job is a conflict.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/jobs/"+id+"/cancel", nil))
	if rr.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rr.Code)
	}

	if _, _, err := st.EnqueueJob(store.EnqueueParams{Origin: "manual", Source: "youtube", URL: "https://example.com/v2"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/jobs/cancel-all", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel-all status = %d, want 200", rr.Code)
	}
	var resp map[string]int64
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["canceled"] != 1 {
		t.Errorf("expected 1 job canceled, got %d", resp["canceled"])
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, st := testutil.SetupTestServer(t)
	router := server.Router()

	id, _, err := st.EnqueueJob(store.EnqueueParams{Origin: "manual", Source: "youtube", URL: "https://example.com/v1"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	job, _ := st.GetJob(id)
	if err := st.RecordDownload(job, "Track", "/archive/track.mp3"); err != nil {
		t.Fatalf("RecordDownload failed: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("history status = %d, want 200", rr.Code)
	}
	var entries []*models.HistoryEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Track" {
		t.Errorf("unexpected history: %v", entries)
	}
}

func TestWatcherStatusEndpoint(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/api/watcher/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var status models.WatcherStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if status.State == "" {
		t.Error("expected a watcher state")
	}
}

func TestRunsEndpoint(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/api/runs", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
