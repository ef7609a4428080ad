package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/tune-ripper/pkg/log"
)

func findPoint(points []Point, name, key, value string) (Point, bool) {
	for _, p := range points {
		if p.Name == name && p.Attributes[key] == value {
			return p, true
		}
	}
	return Point{}, false
}

func TestProviders_SnapshotSeesRecorder(t *testing.T) {
	p := NewProviders()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	rec := p.Recorder()
	ctx := context.Background()

	rec.JobSubmitted(ctx, "youtube")
	rec.JobSubmitted(ctx, "youtube")
	_, finish := rec.StartItem(ctx, "1a2b3c4d", 0, "youtube")
	finish(nil)

	points, err := p.Snapshot(ctx)
	require.NoError(t, err)

	submitted, ok := findPoint(points, "ripper.jobs.submitted", "source", "youtube")
	require.True(t, ok)
	assert.Equal(t, int64(2), submitted.Value)

	duration, ok := findPoint(points, "ripper.item.duration", "outcome", "done")
	require.True(t, ok)
	assert.Equal(t, uint64(1), duration.Count)

	for i := 1; i < len(points); i++ {
		assert.LessOrEqual(t, points[i-1].Name, points[i].Name)
	}
}

func TestProviders_Handler(t *testing.T) {
	p := NewProviders()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	p.Recorder().SubmissionRejected(context.Background(), "rate_limited")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Metrics []Point `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	point, ok := findPoint(body.Metrics, "ripper.submissions.rejected", "reason", "rate_limited")
	require.True(t, ok)
	assert.Equal(t, int64(1), point.Value)
}

func TestProviders_SnapshotAfterShutdown(t *testing.T) {
	p := NewProviders()
	require.NoError(t, p.Shutdown(context.Background()))

	_, err := p.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestProviders_FailedSpansAreLogged(t *testing.T) {
	prev := log.GetLogger()
	t.Cleanup(func() { log.SetLogger(prev) })
	var buf bytes.Buffer
	log.SetLogger(log.NewLoggerTo(&buf, log.LevelWarn))

	p := NewProviders()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	_, finish := p.Recorder().StartItem(context.Background(), "1a2b3c4d", 1, "soundcloud")
	finish(errors.New("ERROR: Private video"))

	out := buf.String()
	assert.True(t, strings.Contains(out, "span ripper.item.process failed"), out)
	assert.Contains(t, out, "ripper.job.id=1a2b3c4d")
	assert.Contains(t, out, "ERROR: Private video")
}
