package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchless-directory/internal/classifier"
)

var (
	touchlessPage = strings.Repeat("Our touchless automatic wash uses high pressure water and no brushes. Free vacuums with every wash. ", 3)
	frictionPage  = strings.Repeat("Soft cloth tunnel wash with foam brushes and a hand dry finish. ", 3)
)

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

type harness struct {
	store      *memStore
	provider   *fakeProvider
	classifier *fakeClassifier
	lock       *fakeLock
	cursors    *memCursors
	kicker     *recordingKicker
	writer     *Writer
	submitter  *Submitter
	poller     *Poller
	status     *StatusService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    newMemStore(),
		provider: newFakeProvider(),
		classifier: &fakeClassifier{verdicts: map[string]*classifier.Verdict{
			strings.TrimSpace(touchlessPage): {IsTouchless: boolPtr(true), Evidence: "touchless automatic", Amenities: []string{"free_vacuum"}},
			strings.TrimSpace(frictionPage):  {IsTouchless: boolPtr(false), Evidence: "soft cloth tunnel"},
		}},
		lock:    &fakeLock{},
		cursors: newMemCursors(),
		kicker:  &recordingKicker{},
	}
	h.submitter = NewSubmitter(h.store, h.store, h.provider, h.cursors, SubmitterConfig{ChunkSize: 100, StorePageSize: 2})
	h.usePollerListings(h.store)
	h.status = NewStatusService(h.store, h.store, h.cursors)
	return h
}

// usePollerListings rebuilds the writer and poller on top of listings
func (h *harness) usePollerListings(listings ListingStore) {
	h.writer = NewWriter(listings, h.store, h.store)
	h.poller = NewPoller(PollerDeps{
		Batches:    h.store,
		Listings:   listings,
		Runs:       h.store,
		Provider:   h.provider,
		Classifier: h.classifier,
		Writer:     h.writer,
		Lock:       h.lock,
		Cursors:    h.cursors,
		Kicker:     h.kicker,
	}, PollerConfig{PageSize: 10, MinContentLength: 50, ClassifyConcurrency: 2})
}

// submit runs a normal-mode submission and returns the provider job id
func (h *harness) submit(t *testing.T) string {
	t.Helper()
	res, err := h.submitter.Submit(context.Background(), SubmitRequest{})
	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	return res.JobID
}
