package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/tune-ripper/internal/jobs"
)

// scriptedServer answers status polls from a fixed sequence of reports and
// repeats the last one once the sequence runs out.
type scriptedServer struct {
	mu      sync.Mutex
	reports []jobs.StatusReport
	calls   atomic.Int32
}

func (s *scriptedServer) next() jobs.StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.reports) {
		n = len(s.reports) - 1
	}
	return s.reports[n]
}

func newStatusServer(t *testing.T, reports ...jobs.StatusReport) (*httptest.Server, *scriptedServer) {
	t.Helper()
	script := &scriptedServer{reports: reports}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status/{job_id}", func(w http.ResponseWriter, r *http.Request) {
		report := script.next()
		report.JobID = r.PathValue("job_id")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, script
}

func TestSubmit_ReturnsJobID(t *testing.T) {
	var got SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/convert", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"job_id":"a1b2c3d4"}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	id, err := c.Submit(context.Background(), SubmitRequest{
		URLs:   []string{"https://youtu.be/x", "https://youtu.be/y"},
		Source: "youtube",
	})

	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4", id)
	assert.Equal(t, []string{"https://youtu.be/x", "https://youtu.be/y"}, got.URLs)
	assert.Equal(t, "youtube", got.Source)
}

func TestSubmit_RejectedCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"too many links: 21 provided, maximum is 20"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Submit(context.Background(), SubmitRequest{URLs: []string{"x"}})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Equal(t, "too many links: 21 provided, maximum is 20", rejected.Message)
}

func TestSubmit_ServerErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to create job"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Submit(context.Background(), SubmitRequest{URLs: []string{"x"}})

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, "submit", transport.Op)
	assert.Contains(t, err.Error(), "failed to create job")
}

func TestStatus_NotFoundIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status/deadbeef", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"job not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Status(context.Background(), "deadbeef")

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "job not found", rejected.Message)
}

func TestPoll_StopsOnTerminalStatus(t *testing.T) {
	srv, script := newStatusServer(t,
		jobs.StatusReport{Status: jobs.StatusPending, Total: 2},
		jobs.StatusReport{Status: jobs.StatusRunning, Total: 2, CompletedCount: 1},
		jobs.StatusReport{
			Status:         jobs.StatusComplete,
			Total:          2,
			CompletedCount: 2,
			Files:          []string{"a1b2c3d4_1_One.mp3"},
			Errors:         []string{"ERROR: Video unavailable"},
		},
	)

	c := New(srv.URL, WithPollInterval(10*time.Millisecond))
	var seen []jobs.Status
	report, err := c.Poll(context.Background(), "a1b2c3d4", func(r jobs.StatusReport) {
		seen = append(seen, r.Status)
	})

	require.NoError(t, err)
	assert.Equal(t, jobs.StatusComplete, report.Status)
	assert.Equal(t, "a1b2c3d4", report.JobID)
	assert.Equal(t, []string{"a1b2c3d4_1_One.mp3"}, report.Files)
	assert.Equal(t, []jobs.Status{jobs.StatusPending, jobs.StatusRunning, jobs.StatusComplete}, seen)
	assert.EqualValues(t, 3, script.calls.Load())
}

func TestPoll_ErrorStatusIsTerminal(t *testing.T) {
	srv, script := newStatusServer(t, jobs.StatusReport{
		Status: jobs.StatusError,
		Total:  1,
		Errors: []string{"ERROR: Private video"},
		Error:  "ERROR: Private video",
	})

	report, err := New(srv.URL, WithPollInterval(5*time.Millisecond)).Poll(context.Background(), "a1b2c3d4", nil)

	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, report.Status)
	assert.Equal(t, "ERROR: Private video", report.Error)
	assert.EqualValues(t, 1, script.calls.Load())
}

func TestPoll_FirstRequestWaitsOneInterval(t *testing.T) {
	srv, script := newStatusServer(t, jobs.StatusReport{Status: jobs.StatusRunning, Total: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := New(srv.URL, WithPollInterval(time.Hour)).Poll(ctx, "a1b2c3d4", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, script.calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after cancel")
	}
}

func TestPoll_CancelStopsPolling(t *testing.T) {
	srv, script := newStatusServer(t, jobs.StatusReport{Status: jobs.StatusRunning, Total: 3})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := New(srv.URL, WithPollInterval(5*time.Millisecond)).Poll(ctx, "a1b2c3d4", func(r jobs.StatusReport) {
		cancel()
	})

	require.ErrorIs(t, err, context.Canceled)
	calls := script.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, script.calls.Load())
}

func TestPoll_TransportFailureIsTerminal(t *testing.T) {
	srv, script := newStatusServer(t, jobs.StatusReport{Status: jobs.StatusRunning, Total: 1})
	c := New(srv.URL, WithPollInterval(5*time.Millisecond))

	var updates atomic.Int32
	first := make(chan struct{})
	var once sync.Once
	done := make(chan error, 1)
	go func() {
		_, err := c.Poll(context.Background(), "a1b2c3d4", func(jobs.StatusReport) {
			updates.Add(1)
			once.Do(func() { close(first) })
		})
		done <- err
	}()

	<-first
	srv.Close()

	select {
	case err := <-done:
		var transport *TransportError
		require.ErrorAs(t, err, &transport)
		assert.Equal(t, "status", transport.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll kept running after the server went away")
	}
	assert.GreaterOrEqual(t, script.calls.Load(), updates.Load())
}

func TestPoll_UndecodableBodyIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithPollInterval(5*time.Millisecond)).Poll(context.Background(), "a1b2c3d4", nil)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Contains(t, err.Error(), "decode response")
}

func TestDownload_StreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/download/a1b2c3d4/a1b2c3d4_Song_Title.mp3", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-audio"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	n, err := New(srv.URL).Download(context.Background(), "a1b2c3d4", "a1b2c3d4_Song_Title.mp3", &buf)

	require.NoError(t, err)
	assert.EqualValues(t, len("ID3-fake-audio"), n)
	assert.Equal(t, "ID3-fake-audio", buf.String())
}

func TestDownload_MissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"file not found"}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	_, err := New(srv.URL).Download(context.Background(), "a1b2c3d4", "nope.mp3", &buf)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "file not found", rejected.Message)
	assert.Zero(t, buf.Len())
}

func TestProgress(t *testing.T) {
	assert.Equal(t, "1/3", Progress(jobs.StatusReport{Total: 3, CompletedCount: 1, StatusDetail: "Processing 2 of 3..."}))
	assert.Equal(t, "Downloading and converting to MP3...",
		Progress(jobs.StatusReport{Total: 1, StatusDetail: "Downloading and converting to MP3..."}))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Song_Title", DisplayName("a1b2c3d4_Song_Title.mp3", 1))
	assert.Equal(t, "Song_Title", DisplayName("a1b2c3d4_2_Song_Title.mp3", 3))
	assert.Equal(t, "2_Fast", DisplayName("a1b2c3d4_2_Fast.mp3", 1))
}
