package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/touchless-directory/internal/adapter"
	"github.com/touchless-directory/internal/classifier"
	apperrors "github.com/touchless-directory/internal/errors"
	"github.com/touchless-directory/internal/models"
	"github.com/touchless-directory/internal/types"
)

// memStore is an in-memory implementation of every store interface
type memStore struct {
	mu       sync.Mutex
	listings map[string]*models.Listing
	batches  map[string]*models.Batch // by job id
	runs     []*models.Run
	filters  map[string]map[string]bool
	jobs     map[string]*models.BackgroundJob
	units    map[string]*models.JobUnit
}

func newMemStore() *memStore {
	return &memStore{
		listings: make(map[string]*models.Listing),
		batches:  make(map[string]*models.Batch),
		filters:  make(map[string]map[string]bool),
		jobs:     make(map[string]*models.BackgroundJob),
		units:    make(map[string]*models.JobUnit),
	}
}

func (m *memStore) addListing(id, website string) *models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &models.Listing{ID: id, Name: "Wash " + id, Amenities: []string{}, Photos: []string{}}
	if website != "" {
		l.Website = &website
	}
	m.listings[id] = l
	return l
}

func (m *memStore) listing(id string) models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyListing(m.listings[id])
}

func copyListing(l *models.Listing) models.Listing {
	c := *l
	c.Amenities = append([]string(nil), l.Amenities...)
	c.Photos = append([]string(nil), l.Photos...)
	return c
}

func (m *memStore) sortedListingIDs() []string {
	ids := make([]string, 0, len(m.listings))
	for id := range m.listings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListingStore

func (m *memStore) ListEligible(ctx context.Context, mode types.BatchMode, afterID string, limit int) ([]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Listing
	for _, id := range m.sortedListingIDs() {
		if id <= afterID {
			continue
		}
		l := m.listings[id]
		if l.WebsiteURL() == "" {
			continue
		}
		ok := false
		switch mode {
		case types.ModeRetry:
			ok = l.IsTouchless == nil && l.CrawlStatus.IsRetryable()
		case types.ModeEnrich:
			ok = l.IsTouchless != nil && *l.IsTouchless && l.HeroImage == nil && l.CrawlStatus != types.CrawlQueued
		default:
			ok = l.IsTouchless == nil && l.CrawlStatus == ""
		}
		if ok {
			c := copyListing(l)
			out = append(out, &c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("listing", id)
	}
	c := copyListing(l)
	return &c, nil
}

func (m *memStore) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.Listing)
	for _, id := range ids {
		if l, ok := m.listings[id]; ok {
			c := copyListing(l)
			out[id] = &c
		}
	}
	return out, nil
}

func (m *memStore) MarkCrawlStatus(ctx context.Context, ids []string, status types.CrawlStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if l, ok := m.listings[id]; ok {
			l.CrawlStatus = status
		}
	}
	return nil
}

func (m *memStore) ReleaseQueued(ctx context.Context, ids []string, status types.CrawlStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if l, ok := m.listings[id]; ok && l.CrawlStatus == types.CrawlQueued {
			l.CrawlStatus = status
			n++
		}
	}
	return n, nil
}

func (m *memStore) ApplyWrite(ctx context.Context, id string, w *models.ListingWrite) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok || (l.IsTouchless != nil && !*l.IsTouchless) {
		return false, nil
	}

	effective := l.IsTouchless
	if effective == nil {
		effective = w.Verdict
	}
	l.CrawlStatus = w.CrawlStatus
	if w.Evidence != nil {
		l.TouchlessEvidence = w.Evidence
	}
	if l.IsTouchless == nil && w.Verdict != nil {
		v := *w.Verdict
		l.IsTouchless = &v
	}
	if effective != nil && *effective {
		set := map[string]bool{}
		for _, a := range append(append([]string{}, l.Amenities...), w.AddAmenities...) {
			set[a] = true
		}
		l.Amenities = l.Amenities[:0]
		for a := range set {
			l.Amenities = append(l.Amenities, a)
		}
		sort.Strings(l.Amenities)
		if l.HeroImage == nil {
			l.HeroImage = w.HeroImage
		}
		if l.LogoImage == nil {
			l.LogoImage = w.LogoImage
		}
		if len(l.Photos) == 0 && len(w.Photos) > 0 {
			l.Photos = append([]string(nil), w.Photos...)
		}
	}
	t := w.CrawledAt
	l.LastCrawledAt = &t
	return true, nil
}

func (m *memStore) CountByCrawlStatus(ctx context.Context, ids []string) (map[types.CrawlStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[types.CrawlStatus]int)
	if ids == nil {
		ids = m.sortedListingIDs()
	}
	for _, id := range ids {
		if l, ok := m.listings[id]; ok {
			out[l.CrawlStatus]++
		}
	}
	return out, nil
}

// BatchStore

func (m *memStore) Create(ctx context.Context, b *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.batches[b.JobID]; exists {
		return fmt.Errorf("duplicate job id %s", b.JobID)
	}
	c := *b
	m.batches[b.JobID] = &c
	return nil
}

func (m *memStore) GetByJobID(ctx context.Context, jobID string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[jobID]
	if !ok {
		return nil, apperrors.NewNotFoundError("batch", jobID)
	}
	c := *b
	return &c, nil
}

func (m *memStore) Latest(ctx context.Context) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Batch
	for _, b := range m.batches {
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (m *memStore) FindRunning(ctx context.Context) (*models.Batch, error) {
	running, _ := m.ListRunning(ctx)
	if len(running) == 0 {
		return nil, nil
	}
	return running[0], nil
}

func (m *memStore) ListRunning(ctx context.Context) ([]*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Batch
	for _, b := range m.batches {
		if b.Status == types.BatchRunning {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ApplyProgress(ctx context.Context, id string, p *models.BatchProgress) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.ID != id {
			continue
		}
		if b.ClassifyStatus.IsTerminal() {
			c := *b
			return &c, nil
		}
		if p.CompletedCount > b.CompletedCount {
			b.CompletedCount = p.CompletedCount
		}
		if p.ClassifiedCount > b.ClassifiedCount {
			b.ClassifiedCount = p.ClassifiedCount
		}
		b.Status = p.Status
		b.ClassifyStatus = p.ClassifyStatus
		if p.Error != nil {
			b.Error = p.Error
		}
		b.WatchdogKicks = 0
		b.UpdatedAt = time.Now()
		c := *b
		return &c, nil
	}
	return nil, apperrors.NewNotFoundError("batch", id)
}

func (m *memStore) RecordKick(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.ID == id {
			b.WatchdogKicks++
			return b.WatchdogKicks, nil
		}
	}
	return 0, apperrors.NewNotFoundError("batch", id)
}

func (m *memStore) batch(jobID string) models.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.batches[jobID]
}

func (m *memStore) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// RunStore

func (m *memStore) Insert(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *run
	m.runs = append(m.runs, &c)
	return nil
}

func (m *memStore) CountDistinctListings(ctx context.Context, batchID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, r := range m.runs {
		if r.BatchID != nil && *r.BatchID == batchID {
			seen[r.ListingID] = true
		}
	}
	return len(seen), nil
}

func (m *memStore) LatestForListing(ctx context.Context, listingID string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].ListingID == listingID && m.runs[i].RawContent != "" {
			c := *m.runs[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) runsFor(listingID string) []models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Run
	for _, r := range m.runs {
		if r.ListingID == listingID {
			out = append(out, *r)
		}
	}
	return out
}

func (m *memStore) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// FilterStore

func (m *memStore) SyncAmenities(ctx context.Context, listingID string, amenities []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filters[listingID] == nil {
		m.filters[listingID] = map[string]bool{}
	}
	for _, a := range amenities {
		m.filters[listingID][a] = true
	}
	return nil
}

// JobStore

func (m *memStore) CreateJob(ctx context.Context, job *models.BackgroundJob, listingIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *job
	m.jobs[job.ID] = &c
	for i, id := range listingIDs {
		unitID := fmt.Sprintf("%s-%04d", job.ID, i)
		m.units[unitID] = &models.JobUnit{ID: unitID, JobID: job.ID, ListingID: id, Status: types.JobPending, UpdatedAt: job.CreatedAt}
	}
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id string) (*models.BackgroundJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job", id)
	}
	c := *j
	return &c, nil
}

func (m *memStore) ListActiveJobs(ctx context.Context) ([]*models.BackgroundJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BackgroundJob
	for _, j := range m.jobs {
		if j.Status == types.JobPending || j.Status == types.JobProcessing {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *memStore) SetJobStatus(ctx context.Context, id string, status types.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return apperrors.NewNotFoundError("job", id)
	}
	j.Status = status
	return nil
}

func (m *memStore) sortedUnitIDs() []string {
	ids := make([]string, 0, len(m.units))
	for id := range m.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *memStore) ClaimPendingUnits(ctx context.Context, jobID string, limit int) ([]*models.JobUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JobUnit
	for _, id := range m.sortedUnitIDs() {
		u := m.units[id]
		if u.JobID != jobID || u.Status != types.JobPending {
			continue
		}
		u.Status = types.JobProcessing
		u.Attempts++
		u.UpdatedAt = time.Now()
		c := *u
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	if j, ok := m.jobs[jobID]; ok && j.Status == types.JobPending {
		j.Status = types.JobProcessing
	}
	return out, nil
}

func (m *memStore) CompleteUnit(ctx context.Context, unitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[unitID].Status = types.JobCompleted
	return nil
}

func (m *memStore) FailUnit(ctx context.Context, unitID string, reason string, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.units[unitID]
	u.Error = &reason
	if u.Attempts >= maxAttempts {
		u.Status = types.JobFailed
	} else {
		u.Status = types.JobPending
	}
	return nil
}

func (m *memStore) UnitCounts(ctx context.Context, jobID string) (*models.JobUnitCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.JobUnitCounts{}
	for _, u := range m.units {
		if u.JobID != jobID {
			continue
		}
		switch u.Status {
		case types.JobPending:
			c.Pending++
		case types.JobProcessing:
			c.Processing++
		case types.JobCompleted:
			c.Completed++
		case types.JobFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *memStore) ResetStalledUnits(ctx context.Context, jobID string, before time.Time, maxAttempts int) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reset, failed int64
	for _, u := range m.units {
		if u.JobID != jobID || u.Status != types.JobProcessing || !u.UpdatedAt.Before(before) {
			continue
		}
		if u.Attempts >= maxAttempts {
			u.Status = types.JobFailed
			failed++
		} else {
			u.Status = types.JobPending
			reset++
		}
	}
	return reset, failed, nil
}

// flakyListings fails page loads or listing writes while the matching error is set
type flakyListings struct {
	*memStore
	loadErr  error
	writeErr error
}

func (f *flakyListings) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Listing, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.memStore.GetByIDs(ctx, ids)
}

func (f *flakyListings) ApplyWrite(ctx context.Context, id string, w *models.ListingWrite) (bool, error) {
	if f.writeErr != nil {
		return false, f.writeErr
	}
	return f.memStore.ApplyWrite(ctx, id, w)
}

// fakeProvider serves scripted result pages keyed by cursor
type fakeProvider struct {
	mu        sync.Mutex
	submitted [][]string
	submitErr error
	nextID    int
	pages     map[string]*adapter.BatchScrapePage
	pageErr   error
	fetches   []string
	onFetch   func() // runs before the page is served
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{pages: make(map[string]*adapter.BatchScrapePage)}
}

func (f *fakeProvider) SubmitBatchScrape(ctx context.Context, urls []string, opts adapter.ScrapeOptions) (*adapter.BatchScrapeSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.nextID++
	f.submitted = append(f.submitted, append([]string(nil), urls...))
	return &adapter.BatchScrapeSubmission{Success: true, ID: fmt.Sprintf("job-%d", f.nextID)}, nil
}

func (f *fakeProvider) GetBatchScrapeResults(ctx context.Context, jobID string, cursor string, pageSize int) (*adapter.BatchScrapePage, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, cursor)
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	page, ok := f.pages[cursor]
	if !ok {
		return nil, fmt.Errorf("no page scripted for cursor %q", cursor)
	}
	c := *page
	return &c, nil
}

// fakeClassifier returns verdicts keyed by page text
type fakeClassifier struct {
	mu       sync.Mutex
	verdicts map[string]*classifier.Verdict
	err      error
	calls    int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (*classifier.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.verdicts[text]; ok {
		return v, nil
	}
	return &classifier.Verdict{}, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLock is an in-process PollLock
type fakeLock struct {
	mu        sync.Mutex
	held      map[string]string
	n         int
	onAcquire func() // runs before the lock is granted
}

func (l *fakeLock) Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error) {
	if l.onAcquire != nil {
		l.onAcquire()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[jobID]; ok {
		return "", false, nil
	}
	l.n++
	token := fmt.Sprintf("t%d", l.n)
	l.held[jobID] = token
	return token, true, nil
}

func (l *fakeLock) Release(ctx context.Context, jobID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[jobID] == token {
		delete(l.held, jobID)
	}
	return nil
}

// memCursors is an in-memory CursorStore
type memCursors struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemCursors() *memCursors { return &memCursors{m: map[string]string{}} }

func (c *memCursors) Save(ctx context.Context, jobID, cursor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[jobID] = cursor
	return nil
}

func (c *memCursors) Get(ctx context.Context, jobID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[jobID]
	return v, ok, nil
}

func (c *memCursors) Delete(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, jobID)
	return nil
}

// recordingKicker records kicks synchronously
type recordingKicker struct {
	mu    sync.Mutex
	polls []string
	jobs  []string
}

func (k *recordingKicker) KickPoll(ctx context.Context, jobID, cursor string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.polls = append(k.polls, jobID+"@"+cursor)
	return nil
}

func (k *recordingKicker) KickJob(ctx context.Context, jobID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.jobs = append(k.jobs, jobID)
	return nil
}
