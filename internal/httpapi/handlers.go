package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/tune-ripper/internal/config"
	"github.com/MimeLyc/tune-ripper/internal/jobs"
	"github.com/MimeLyc/tune-ripper/pkg/file"
	"github.com/MimeLyc/tune-ripper/pkg/log"
)

const maxConvertBody = 64 << 10

type convertRequest struct {
	URLs    []string `json:"urls"`
	URL     string   `json:"url"`
	Source  string   `json:"source"`
	Browser string   `json:"browser"`
}

type convertResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.recorder.SubmissionRejected(r.Context(), "rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many requests, please wait a moment")
		return
	}

	var req convertRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConvertBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	raw := req.URLs
	if len(raw) == 0 && strings.TrimSpace(req.URL) != "" {
		raw = []string{req.URL}
	}

	batch, err := jobs.ValidateBatch(raw, req.Source)
	if err != nil {
		s.recorder.SubmissionRejected(r.Context(), "validation")
		writeError(w, http.StatusBadRequest, jobs.Message(err))
		return
	}

	job, err := s.jobs.Submit(r.Context(), batch.WithBrowser(req.Browser))
	if err != nil {
		log.Error("Failed to submit batch: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	writeJSON(w, http.StatusOK, convertResponse{JobID: job.ID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.status.Status(r.PathValue("job_id"))
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID, name := r.PathValue("job_id"), r.PathValue("filename")
	if !file.IsPlainName(name) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err := s.status.Artifact(jobID, name); err != nil {
		writeStatusError(w, err)
		return
	}

	f, err := os.Open(filepath.Join(s.downloadDir, name))
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeStatusError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrArtifactNotFound):
		writeError(w, http.StatusNotFound, "file not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
