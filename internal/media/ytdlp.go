// Package media converts links to MP3 with yt-dlp.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MimeLyc/tune-ripper/internal/artifact"
	"github.com/MimeLyc/tune-ripper/internal/jobs"
	"github.com/MimeLyc/tune-ripper/pkg/file"
	"github.com/MimeLyc/tune-ripper/pkg/log"
)

const (
	DefaultBinary  = "yt-dlp"
	DefaultTimeout = 5 * time.Minute

	maxErrorBytes   = 500
	unknownErrorMsg = "unknown error occurred"
)

type Config struct {
	Binary      string
	DownloadDir string
	Timeout     time.Duration
}

// YTDLP implements jobs.Processor.
type YTDLP struct {
	binary  string
	dir     string
	timeout time.Duration
	runner  commandRunner
}

func NewYTDLP(cfg Config) *YTDLP {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &YTDLP{
		binary:  cfg.Binary,
		dir:     filepath.Clean(cfg.DownloadDir),
		timeout: cfg.Timeout,
		runner:  execRunner{},
	}
}

func (y *YTDLP) DownloadDir() string {
	return y.dir
}

// Process downloads one link and returns the name of the MP3 it produced.
// Failures are *jobs.Error values whose Message is the client-facing reason.
func (y *YTDLP) Process(ctx context.Context, req jobs.ItemRequest) (string, error) {
	if err := os.MkdirAll(y.dir, 0o755); err != nil {
		return "", jobs.NewErrorWithCause(jobs.TypeProcessing, "cannot create download directory", err)
	}

	cmdPath, err := exec.LookPath(y.binary)
	if err != nil {
		return "", jobs.NewErrorWithCause(jobs.TypeProcessing,
			fmt.Sprintf("%s is not installed", y.binary), err)
	}

	prefix := artifact.Prefix(req.JobID, req.Index, req.Total)
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	log.Debug("Running %s for %s (prefix %s)", y.binary, req.URL, prefix)
	result, err := y.runner.Run(ctx, cmdPath, y.args(prefix, req)...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", jobs.NewErrorWithCause(jobs.TypeProcessing,
			fmt.Sprintf("download timed out after %s", y.timeout), ctx.Err())
	}
	if err != nil {
		return "", jobs.NewErrorWithCause(jobs.TypeProcessing, failureText(result), err).
			WithContext("exit_code", result.ExitCode)
	}

	files, err := file.FindByPrefix(y.dir, prefix+"_", artifact.Extension)
	if err != nil {
		return "", jobs.NewErrorWithCause(jobs.TypeProcessing, "cannot list download directory", err)
	}
	owned := files[:0]
	for _, f := range files {
		if artifact.Owns(prefix, f) {
			owned = append(owned, f)
		}
	}
	if len(owned) == 0 {
		return "", jobs.NewError(jobs.TypeProcessing, "download finished but no MP3 file was found")
	}
	if len(owned) > 1 {
		log.Warn("Item %s produced %d files, keeping %s", prefix, len(owned), owned[0])
	}
	return owned[0], nil
}

func (y *YTDLP) args(prefix string, req jobs.ItemRequest) []string {
	args := []string{
		"--extract-audio",
		"--audio-format", "mp3",
		"--no-playlist",
		"--restrict-filenames",
	}
	if req.Browser != "" {
		args = append(args, "--cookies-from-browser", req.Browser)
	}
	return append(args,
		"-o", filepath.Join(y.dir, artifact.OutputTemplate(prefix)),
		req.URL,
	)
}

// failureText picks stderr, then stdout, then a generic reason.
func failureText(r commandResult) string {
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(r.Stdout)
	}
	if msg == "" {
		return unknownErrorMsg
	}
	return truncate(msg, maxErrorBytes)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
