package jobs

import "fmt"

const defaultStatusDetail = "Downloading and converting to MP3..."

// StatusReport is the client-facing projection of a job.
type StatusReport struct {
	JobID          string   `json:"job_id"`
	Status         Status   `json:"status"`
	Total          int      `json:"total"`
	CompletedCount int      `json:"completed_count"`
	StatusDetail   string   `json:"status_detail,omitempty"`
	Files          []string `json:"files"`
	Errors         []string `json:"errors"`
	Error          string   `json:"error,omitempty"`
}

// Reduce folds item statuses into the job status. A batch where every item
// failed is still complete; only a failed single-link job is an error.
func Reduce(items []Item) Status {
	var started, terminal, done int
	for _, item := range items {
		switch item.Status {
		case ItemRunning:
			started++
		case ItemDone:
			terminal++
			done++
		case ItemFailed:
			terminal++
		}
	}

	switch {
	case len(items) == 0:
		return StatusPending
	case terminal == len(items):
		if done == 0 && len(items) == 1 {
			return StatusError
		}
		return StatusComplete
	case started == 0 && terminal == 0:
		return StatusPending
	default:
		return StatusRunning
	}
}

// Summarize aggregates a job snapshot into a StatusReport.
func Summarize(job *Job) StatusReport {
	report := StatusReport{
		JobID:  job.ID,
		Status: job.Status(),
		Total:  len(job.Items),
		Files:  make([]string, 0, len(job.Items)),
		Errors: make([]string, 0),
	}
	for _, item := range job.Items {
		switch item.Status {
		case ItemDone:
			report.CompletedCount++
			report.Files = append(report.Files, item.ResultFile)
		case ItemFailed:
			report.CompletedCount++
			report.Errors = append(report.Errors, item.Error)
		}
	}
	if report.Status == StatusError && len(report.Errors) > 0 {
		report.Error = report.Errors[0]
	}
	report.StatusDetail = statusDetail(report)
	return report
}

func statusDetail(r StatusReport) string {
	switch r.Status {
	case StatusPending:
		return fmt.Sprintf("Queued %d link(s)...", r.Total)
	case StatusRunning:
		if r.Total > 1 {
			return fmt.Sprintf("Processing %d of %d...", r.CompletedCount, r.Total)
		}
		return defaultStatusDetail
	case StatusComplete:
		return fmt.Sprintf("Converted %d of %d link(s)", len(r.Files), r.Total)
	case StatusError:
		return "Conversion failed"
	default:
		return defaultStatusDetail
	}
}
