package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kickRequest struct {
	path string
	body map[string]string
}

func kickServer(t *testing.T) (*httptest.Server, chan kickRequest) {
	t.Helper()
	got := make(chan kickRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- kickRequest{path: r.URL.Path, body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func waitKick(t *testing.T, got chan kickRequest) kickRequest {
	t.Helper()
	select {
	case req := <-got:
		return req
	case <-time.After(2 * time.Second):
		require.FailNow(t, "kick request not received")
		return kickRequest{}
	}
}

func TestHTTPKicker_KickPoll(t *testing.T) {
	srv, got := kickServer(t)
	k := NewHTTPKicker(srv.URL+"/", 0, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, k.KickPoll(ctx, "job-1", "cursor-2"))
	// the kick outlives the request that scheduled it
	cancel()

	req := waitKick(t, got)
	assert.Equal(t, "/api/batches/poll", req.path)
	assert.Equal(t, "job-1", req.body["job_id"])
	assert.Equal(t, "cursor-2", req.body["next_cursor"])
}

func TestHTTPKicker_KickJob(t *testing.T) {
	srv, got := kickServer(t)
	k := NewHTTPKicker(srv.URL, 10*time.Millisecond, time.Second)

	require.NoError(t, k.KickJob(context.Background(), "abc"))
	assert.Equal(t, "/api/jobs/abc/process", waitKick(t, got).path)
}
