package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/pipeline"
	"github.com/touchless-directory/internal/types"
)

// Mock services for testing
type mockSubmitter struct {
	submitFunc func(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error)
	last       pipeline.SubmitRequest
}

func (m *mockSubmitter) Submit(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error) {
	m.last = req
	if m.submitFunc != nil {
		return m.submitFunc(ctx, req)
	}
	return &pipeline.SubmitResult{
		Batch:         &models.Batch{ID: "batch-1", JobID: "job-1", Mode: req.Mode, Status: types.BatchRunning},
		JobID:         "job-1",
		URLsSubmitted: 2,
		Skipped:       1,
	}, nil
}

type mockPoller struct {
	pollFunc func(ctx context.Context, jobID, cursor string) (*pipeline.PollResult, error)
}

func (m *mockPoller) Poll(ctx context.Context, jobID, cursor string) (*pipeline.PollResult, error) {
	if m.pollFunc != nil {
		return m.pollFunc(ctx, jobID, cursor)
	}
	return &pipeline.PollResult{JobID: jobID, Processed: 10, NextCursor: "next-" + cursor, BatchStatus: types.BatchRunning}, nil
}

type mockStatus struct {
	statusFunc func(ctx context.Context, jobID string) (*pipeline.StatusReport, error)
}

func (m *mockStatus) Status(ctx context.Context, jobID string) (*pipeline.StatusReport, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, jobID)
	}
	return &pipeline.StatusReport{
		Batch:         &models.Batch{JobID: "job-1", ClassifiedCount: 1},
		ListingTotal:  4,
		Percent:       25,
		CrawlStatuses: map[types.CrawlStatus]int{types.CrawlClassified: 1, types.CrawlQueued: 3},
	}, nil
}

type mockJobs struct {
	createFunc func(ctx context.Context, ids []string) (*models.BackgroundJob, error)
}

func (m *mockJobs) CreateReclassifyJob(ctx context.Context, ids []string) (*models.BackgroundJob, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, ids)
	}
	return &models.BackgroundJob{ID: "bg-1", JobType: models.JobTypeReclassify, Status: types.JobPending, TotalUnits: len(ids)}, nil
}

func (m *mockJobs) ProcessJob(ctx context.Context, jobID string) (*pipeline.JobProgress, error) {
	if jobID == "missing" {
		return nil, apperrors.NewNotFoundError("job", jobID)
	}
	return &pipeline.JobProgress{
		Job:       &models.BackgroundJob{ID: jobID, Status: types.JobProcessing},
		Counts:    &models.JobUnitCounts{Pending: 2, Completed: 3},
		Processed: 3,
	}, nil
}

func (m *mockJobs) JobStatus(ctx context.Context, jobID string) (*pipeline.JobProgress, error) {
	return &pipeline.JobProgress{
		Job:    &models.BackgroundJob{ID: jobID, Status: types.JobCompleted},
		Counts: &models.JobUnitCounts{Completed: 5},
		Done:   true,
	}, nil
}

type testServer struct {
	submitter *mockSubmitter
	poller    *mockPoller
	status    *mockStatus
	jobs      *mockJobs
	health    map[string]HealthCheck
	handler   http.Handler
}

func newTestServer(t *testing.T, rps int) *testServer {
	t.Helper()
	ts := &testServer{
		submitter: &mockSubmitter{},
		poller:    &mockPoller{},
		status:    &mockStatus{},
		jobs:      &mockJobs{},
		health: map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
		},
	}
	srv := NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0", RequestsPerSec: rps, Burst: 2}, Services{
		Submitter: ts.submitter,
		Poller:    ts.poller,
		Status:    ts.status,
		Jobs:      ts.jobs,
		Health:    ts.health,
	})
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSubmitBatch_Created(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do("POST", "/api/batches", map[string]interface{}{"chunk_size": 50})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, float64(2), body["urls_submitted"])
	assert.Equal(t, float64(1), body["skipped"])
	assert.Equal(t, types.ModeNormal, ts.submitter.last.Mode)
	assert.Equal(t, 50, ts.submitter.last.ChunkSize)
}

func TestSubmitBatch_EmptyBodyDefaultsToNormal(t *testing.T) {
	ts := newTestServer(t, 0)

	req := httptest.NewRequest("POST", "/api/batches", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, types.ModeNormal, ts.submitter.last.Mode)
}

func TestSubmitBatch_Modes(t *testing.T) {
	ts := newTestServer(t, 0)

	ts.do("POST", "/api/batches", map[string]interface{}{"retry_failed": true, "force": true})
	assert.Equal(t, types.ModeRetry, ts.submitter.last.Mode)
	assert.True(t, ts.submitter.last.Force)

	ts.do("POST", "/api/batches", map[string]interface{}{"enrich": true})
	assert.Equal(t, types.ModeEnrich, ts.submitter.last.Mode)

	rec := ts.do("POST", "/api/batches", map[string]interface{}{"enrich": true, "retry_failed": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitBatch_NothingEligible(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.submitter.submitFunc = func(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error) {
		return &pipeline.SubmitResult{Done: true}, nil
	}

	rec := ts.do("POST", "/api/batches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["done"])
}

func TestSubmitBatch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"running", apperrors.NewBatchRunningError("job-0"), http.StatusConflict, apperrors.CodeBatchRunning},
		{"provider", apperrors.NewProviderError("firecrawl", errors.New("401")), http.StatusBadGateway, apperrors.CodeProvider},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, apperrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, 0)
			ts.submitter.submitFunc = func(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error) {
				return nil, tt.err
			}

			rec := ts.do("POST", "/api/batches", nil)
			assert.Equal(t, tt.status, rec.Code)
			errBody := decode(t, rec)["error"].(map[string]interface{})
			assert.Equal(t, tt.code, errBody["code"])
		})
	}
}

func TestSubmitBatch_RejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do("POST", "/api/batches", map[string]interface{}{"everything": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPollBatch(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do("POST", "/api/batches/poll", PollBatchRequest{JobID: "job-1", NextCursor: "c1"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "next-c1", body["next_cursor"])
	assert.Equal(t, float64(10), body["processed"])
	assert.Equal(t, false, body["done"])
}

func TestPollBatch_RequiresJobID(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do("POST", "/api/batches/poll", PollBatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPollBatch_Expired(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.poller.pollFunc = func(ctx context.Context, jobID, cursor string) (*pipeline.PollResult, error) {
		return &pipeline.PollResult{Done: true, Expired: true}, apperrors.NewJobExpiredError(jobID)
	}

	rec := ts.do("POST", "/api/batches/poll", PollBatchRequest{JobID: "job-1"})
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, true, decode(t, rec)["expired"])
}

func TestPollBatch_Locked(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.poller.pollFunc = func(ctx context.Context, jobID, cursor string) (*pipeline.PollResult, error) {
		return nil, apperrors.NewPollInProgressError(jobID)
	}

	rec := ts.do("POST", "/api/batches/poll", PollBatchRequest{JobID: "job-1"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	_, hasExpired := decode(t, rec)["expired"]
	assert.False(t, hasExpired)
}

func TestBatchStatus(t *testing.T) {
	ts := newTestServer(t, 0)
	var gotJobID string
	ts.status.statusFunc = func(ctx context.Context, jobID string) (*pipeline.StatusReport, error) {
		gotJobID = jobID
		return (&mockStatus{}).Status(ctx, jobID)
	}

	rec := ts.do("GET", "/api/batches/status?job_id=job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job-1", gotJobID)

	body := decode(t, rec)
	assert.Equal(t, float64(25), body["percent"])
	assert.Equal(t, float64(3), body["crawl_statuses"].(map[string]interface{})["queued"])
}

func TestJobs(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do("POST", "/api/jobs/reclassify", ReclassifyRequest{ListingIDs: []string{"a", "b"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode(t, rec)["job"].(map[string]interface{})
	assert.Equal(t, float64(2), job["totalUnits"])

	rec = ts.do("POST", "/api/jobs/bg-1/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["processed"])

	rec = ts.do("GET", "/api/jobs/bg-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["done"])

	rec = ts.do("POST", "/api/jobs/missing/process", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do("GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	ts.health["redis"] = func(ctx context.Context) error { return errors.New("connection refused") }
	rec = ts.do("GET", "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := decode(t, rec)["checks"].(map[string]interface{})
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "touchless_")
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, 1)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, ts.do("GET", "/api/batches/status", nil).Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)

	// health checks are not rate limited
	assert.Equal(t, http.StatusOK, ts.do("GET", "/health", nil).Code)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do("GET", "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
