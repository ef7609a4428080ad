// Package client talks to the conversion HTTP API: it submits batches,
// polls job status until a terminal state and downloads the finished files.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/tune-ripper/internal/artifact"
	"github.com/MimeLyc/tune-ripper/internal/jobs"
)

// DefaultPollInterval is how often Poll asks for a job's status.
const DefaultPollInterval = 2 * time.Second

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// Client is a conversion API client.
// It is safe for concurrent use.
//
// baseURL: server root, e.g. http://localhost:5001
// httpClient: transport for every request
// interval: delay between two status polls
type Client struct {
	baseURL    string
	httpClient *http.Client
	interval   time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPollInterval changes the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// New creates a client for the server at baseURL.
//
// Example:
//
//	c := client.New("http://localhost:5001")
//	id, err := c.Submit(ctx, client.SubmitRequest{URLs: links})
//	if err != nil {
//		return err
//	}
//	report, err := c.Poll(ctx, id, func(r jobs.StatusReport) {
//		fmt.Println(client.Progress(r))
//	})
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		interval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitRequest is one batch submission.
type SubmitRequest struct {
	URLs    []string `json:"urls"`
	Source  string   `json:"source,omitempty"`
	Browser string   `json:"browser,omitempty"`
}

// RejectedError is returned when the server answers a request with a 4xx
// status. Message is the server's error text.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%d): %s", e.StatusCode, e.Message)
}

// TransportError covers everything between the client and a usable
// response: connection failures, 5xx answers and undecodable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type errorBody struct {
	Error string `json:"error"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit sends a batch and returns the job id assigned by the server.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var out submitResponse
	if err := c.doJSON(ctx, "submit", http.MethodPost, "/api/convert", body, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &TransportError{Op: "submit", Err: errors.New("response has no job id")}
	}
	return out.JobID, nil
}

// Status fetches the current report of a job.
func (c *Client) Status(ctx context.Context, jobID string) (jobs.StatusReport, error) {
	var report jobs.StatusReport
	err := c.doJSON(ctx, "status", http.MethodGet, "/api/status/"+url.PathEscape(jobID), nil, &report)
	return report, err
}

// Poll asks for the job's status once per interval, the first time after one
// full interval, and hands every report to onUpdate. It returns the terminal
// report, or the first error, or ctx.Err() when the caller gives up. It
// never retries a failed request.
func (c *Client) Poll(ctx context.Context, jobID string, onUpdate func(jobs.StatusReport)) (jobs.StatusReport, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return jobs.StatusReport{}, ctx.Err()
		case <-ticker.C:
		}

		report, err := c.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return jobs.StatusReport{}, ctx.Err()
			}
			return jobs.StatusReport{}, err
		}
		if onUpdate != nil {
			onUpdate(report)
		}
		if report.Status.IsTerminal() {
			return report, nil
		}
	}
}

// Download streams one artifact of a job into w.
func (c *Client) Download(ctx context.Context, jobID, file string, w io.Writer) (int64, error) {
	path := "/api/download/" + url.PathEscape(jobID) + "/" + url.PathEscape(file)
	resp, err := c.do(ctx, "download", http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &TransportError{Op: "download", Err: err}
	}
	return n, nil
}

// Progress is the one-line progress text for a report: "C/N" for batches,
// the server's detail otherwise.
func Progress(report jobs.StatusReport) string {
	if report.Total > 1 {
		return fmt.Sprintf("%d/%d", report.CompletedCount, report.Total)
	}
	return report.StatusDetail
}

// DisplayName turns an artifact name into the title shown to the user.
func DisplayName(file string, total int) string {
	return artifact.DisplayName(file, total > 1)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body []byte, out any) error {
	resp, err := c.do(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// do sends the request and turns every non-2xx answer into an error, so a
// returned response always has a usable body.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	msg := readErrorMessage(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: msg}
	}
	return nil, &TransportError{Op: op, Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)}
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
