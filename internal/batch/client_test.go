package batch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListener captures lifecycle callbacks for assertions.
type recordingListener struct {
	mu        sync.Mutex
	statuses  []string
	progress  []float64
	completed bool
}

func (l *recordingListener) OnStatus(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *recordingListener) OnProgress(p float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, p)
}

func (l *recordingListener) OnComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = true
}

func (l *recordingListener) lastProgress() (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.progress) == 0 {
		return 0, false
	}
	return l.progress[len(l.progress)-1], true
}

// fakeBatchServer emulates the remote batch API for one job.
type fakeBatchServer struct {
	mu            sync.Mutex
	pollStatuses  []string // consumed one per GET /batches/{id}
	outputFileID  string
	failureReason string
	resultBody    string

	uploads   int
	submits   int
	polls     int
	downloads int
}

func (f *fakeBatchServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.uploads++
		f.mu.Unlock()
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "batch", r.FormValue("purpose"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-in-1"})
	})

	mux.HandleFunc("POST /batches", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.submits++
		f.mu.Unlock()
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "file-in-1", body["input_file_id"])
		assert.Equal(t, "24h", body["completion_window"])
		assert.NotEmpty(t, body["endpoint"])
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "batch-1", "status": "validating"})
	})

	mux.HandleFunc("GET /batches/batch-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.pollStatuses[0]
		if len(f.pollStatuses) > 1 {
			f.pollStatuses = f.pollStatuses[1:]
		}
		f.polls++
		f.mu.Unlock()

		resp := map[string]any{"id": "batch-1", "status": status}
		if status == "completed" && f.outputFileID != "" {
			resp["output_file_id"] = f.outputFileID
		}
		if status == "failed" {
			resp["errors"] = map[string]any{
				"data": []map[string]string{{"message": f.failureReason}},
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("GET /files/file-out-1/content", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.downloads++
		f.mu.Unlock()
		_, _ = w.Write([]byte(f.resultBody))
	})

	return mux
}

func (f *fakeBatchServer) counts() (uploads, submits, polls, downloads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.submits, f.polls, f.downloads
}

func newTestClient(t *testing.T, srv *httptest.Server, listener Listener) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:          srv.URL,
		APIKey:           "test-key",
		Endpoint:         "/v4/chat/completions",
		CompletionWindow: "24h",
		FastPollInterval: time.Millisecond,
		SlowPollInterval: 2 * time.Millisecond,
		FastPollCount:    3,
		MaxPollDuration:  5 * time.Second,
	}, slog.Default(), WithListener(listener), WithHTTPClient(srv.Client()))
}

func TestClient_ExecuteHappyPath(t *testing.T) {
	fake := &fakeBatchServer{
		pollStatuses: []string{"validating", "in_progress", "completed"},
		outputFileID: "file-out-1",
		resultBody:   `{"correlationId":"request-row0"}` + "\n",
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	listener := &recordingListener{}
	c := newTestClient(t, srv, listener)

	res, err := c.Execute(context.Background(), []byte(`{"x":1}`+"\n"), "test run")
	require.NoError(t, err)

	assert.Equal(t, "batch-1", res.JobID)
	assert.Equal(t, "file-in-1", res.InputFileRef)
	assert.Equal(t, "file-out-1", res.OutputFileRef)
	assert.Equal(t, fake.resultBody, string(res.Raw))

	uploads, submits, polls, downloads := fake.counts()
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 1, submits)
	assert.Equal(t, 3, polls)
	assert.Equal(t, 1, downloads)

	// Completion pins the reported progress at 0.9.
	last, ok := listener.lastProgress()
	require.True(t, ok)
	assert.InDelta(t, 0.9, last, 0.0001)
}

func TestClient_CompletedWithoutOutputSkipsDownload(t *testing.T) {
	fake := &fakeBatchServer{pollStatuses: []string{"completed"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv, nil)

	res, err := c.Execute(context.Background(), []byte("{}\n"), "test run")
	require.ErrorIs(t, err, ErrCompletedWithoutOutput)
	require.NotNil(t, res)
	assert.Equal(t, "batch-1", res.JobID)

	_, _, _, downloads := fake.counts()
	assert.Zero(t, downloads)
}

func TestClient_RemoteFailureCarriesReason(t *testing.T) {
	fake := &fakeBatchServer{
		pollStatuses:  []string{"in_progress", "failed"},
		failureReason: "quota exceeded",
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv, nil)

	_, err := c.Execute(context.Background(), []byte("{}\n"), "test run")
	require.ErrorIs(t, err, ErrRemoteJobFailed)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestClient_RemoteCancellationIsCancelled(t *testing.T) {
	fake := &fakeBatchServer{pollStatuses: []string{"cancelled"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv, nil)

	_, err := c.Execute(context.Background(), []byte("{}\n"), "test run")
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestClient_UploadCancelledBeforeAnyRequest(t *testing.T) {
	fake := &fakeBatchServer{pollStatuses: []string{"in_progress"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Execute(ctx, []byte("{}\n"), "test run")
	require.ErrorIs(t, err, ErrCancelled)

	uploads, _, _, _ := fake.counts()
	assert.Zero(t, uploads)
}

func TestClient_AwaitStopsPollingAfterCancellation(t *testing.T) {
	fake := &fakeBatchServer{pollStatuses: []string{"in_progress"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, "batch-1")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return after cancellation")
	}

	_, _, before, _ := fake.counts()
	time.Sleep(20 * time.Millisecond)
	_, _, after, _ := fake.counts()
	assert.Equal(t, before, after, "no polls after cancellation was observed")
}

func TestClient_AwaitTimesOut(t *testing.T) {
	fake := &fakeBatchServer{pollStatuses: []string{"in_progress"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:          srv.URL,
		APIKey:           "test-key",
		Endpoint:         "/v4/chat/completions",
		FastPollInterval: time.Millisecond,
		SlowPollInterval: time.Millisecond,
		MaxPollDuration:  time.Nanosecond,
	}, slog.Default())

	_, err := c.Await(context.Background(), "batch-1")
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestEstimateProgress(t *testing.T) {
	native := func(p float64) *float64 { return &p }

	// Native remote progress maps onto [0.1, 0.9].
	assert.InDelta(t, 0.1, estimateProgress(native(0), time.Second, time.Minute), 0.0001)
	assert.InDelta(t, 0.5, estimateProgress(native(0.5), time.Second, time.Minute), 0.0001)
	assert.InDelta(t, 0.9, estimateProgress(native(1), time.Second, time.Minute), 0.0001)
	assert.InDelta(t, 0.9, estimateProgress(native(7), time.Second, time.Minute), 0.0001)
	assert.InDelta(t, 0.1, estimateProgress(native(-1), time.Second, time.Minute), 0.0001)

	// Without native progress, fall back to wall clock against the estimate.
	assert.InDelta(t, 0.5, estimateProgress(nil, 30*time.Second, time.Minute), 0.0001)
	assert.InDelta(t, 0.9, estimateProgress(nil, 10*time.Minute, time.Minute), 0.0001)
	assert.InDelta(t, 0.1, estimateProgress(nil, 0, time.Minute), 0.0001)
}

func TestBatchResponse_ProgressFromRequestCounts(t *testing.T) {
	var br batchResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "batch-1",
		"status": "in_progress",
		"request_counts": {"completed": 3, "failed": 1, "total": 8}
	}`), &br))

	snap := br.snapshot()
	require.NotNil(t, snap.Progress)
	assert.InDelta(t, 0.5, *snap.Progress, 0.0001)
}
