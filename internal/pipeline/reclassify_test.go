package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

func newJobRunner(h *harness, cfg JobRunnerConfig) *JobRunner {
	return NewJobRunner(h.store, h.store, h.classifier, h.writer, h.kicker, cfg)
}

func seedRun(t *testing.T, h *harness, listingID, content string) {
	t.Helper()
	require.NoError(t, h.store.Insert(context.Background(), &models.Run{
		ID:          "run-" + listingID,
		ListingID:   listingID,
		CrawlStatus: types.CrawlClassified,
		RawContent:  strings.TrimSpace(content),
	}))
}

func TestReclassify_CreateDeduplicatesAndKicks(t *testing.T) {
	h := newHarness(t)
	runner := newJobRunner(h, JobRunnerConfig{AutoContinue: true})

	job, err := runner.CreateReclassifyJob(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, job.TotalUnits)
	assert.Equal(t, types.JobPending, job.Status)
	assert.Equal(t, []string{job.ID}, h.kicker.jobs)

	counts, err := h.store.UnitCounts(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
}

func TestReclassify_RejectsEmptyInput(t *testing.T) {
	h := newHarness(t)
	_, err := newJobRunner(h, JobRunnerConfig{}).CreateReclassifyJob(context.Background(), nil)
	assert.Equal(t, http.StatusBadRequest, apperrors.GetHTTPStatusCode(err))
}

func TestReclassify_ProcessesStoredContent(t *testing.T) {
	h := newHarness(t)
	h.store.addListing("a", "https://wash1.com")
	h.store.addListing("b", "https://wash2.com")
	falseListing := h.store.addListing("c", "https://wash3.com")
	falseListing.IsTouchless = boolPtr(false)
	seedRun(t, h, "a", touchlessPage)
	seedRun(t, h, "c", touchlessPage)

	runner := newJobRunner(h, JobRunnerConfig{})
	job, err := runner.CreateReclassifyJob(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	progress, err := runner.ProcessJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.True(t, progress.Done)
	assert.Equal(t, 3, progress.Processed)
	assert.Equal(t, 2, progress.Counts.Completed)
	assert.Equal(t, 1, progress.Counts.Failed)
	assert.Equal(t, types.JobCompleted, progress.Job.Status)

	a := h.store.listing("a")
	require.NotNil(t, a.IsTouchless)
	assert.True(t, *a.IsTouchless)
	assert.Equal(t, []string{"free_vacuum"}, a.Amenities)
	assert.False(t, *h.store.listing("c").IsTouchless)
	assert.Len(t, h.store.runsFor("c"), 1)

	status, err := runner.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, status.Done)
}

func TestReclassify_RetriesClassifierFailures(t *testing.T) {
	h := newHarness(t)
	h.store.addListing("a", "https://wash1.com")
	seedRun(t, h, "a", touchlessPage)
	h.classifier.err = errors.New("upstream overloaded")

	runner := newJobRunner(h, JobRunnerConfig{MaxAttempts: 2, AutoContinue: true})
	job, err := runner.CreateReclassifyJob(context.Background(), []string{"a"})
	require.NoError(t, err)

	progress, err := runner.ProcessJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, progress.Done)
	assert.Equal(t, 1, progress.Counts.Pending)
	assert.Equal(t, []string{job.ID, job.ID}, h.kicker.jobs)

	progress, err = runner.ProcessJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, progress.Done)
	assert.Equal(t, 1, progress.Counts.Completed)
	assert.Equal(t, types.CrawlClassifyFailed, h.store.listing("a").CrawlStatus)
	assert.Equal(t, 2, h.classifier.callCount())
}

func TestReclassify_UnknownJob(t *testing.T) {
	h := newHarness(t)
	_, err := newJobRunner(h, JobRunnerConfig{}).ProcessJob(context.Background(), "missing")
	assert.Equal(t, http.StatusNotFound, apperrors.GetHTTPStatusCode(err))
}
