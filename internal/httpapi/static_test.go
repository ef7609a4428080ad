package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServesUIFromStaticDir(t *testing.T) {
	staticDir := filepath.Join(t.TempDir(), "static")
	require.NoError(t, os.MkdirAll(staticDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>ripper</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "script.js"), []byte("poll()"), 0o644))

	env := newTestEnv(t, WithUI(staticDir, true))

	for _, url := range []string{"/", "/history"} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ripper")
	}

	req := httptest.NewRequest(http.MethodGet, "/script.js", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "poll()", rec.Body.String())
}

func TestServer_UIDisabled(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
