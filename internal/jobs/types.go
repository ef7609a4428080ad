package jobs

import (
	"time"

	"github.com/MimeLyc/tune-ripper/internal/source"
)

// MaxBatch is the largest number of links accepted in one submission.
const MaxBatch = 20

type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemRunning ItemStatus = "running"
	ItemDone    ItemStatus = "done"
	ItemFailed  ItemStatus = "failed"
)

func (s ItemStatus) IsTerminal() bool {
	return s == ItemDone || s == ItemFailed
}

// Status is the job-level status. It is always derived from the items.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

type Item struct {
	Index      int        `json:"index"`
	URL        string     `json:"url"`
	Status     ItemStatus `json:"status"`
	ResultFile string     `json:"result_file,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

type Job struct {
	ID        string      `json:"id"`
	Source    source.Kind `json:"source"`
	Browser   string      `json:"browser,omitempty"`
	Items     []Item      `json:"items"`
	CreatedAt time.Time   `json:"created_at"`
}

func (j *Job) Status() Status {
	return Reduce(j.Items)
}

// FinishedAt is the time the last item reached a terminal state. The second
// return value is false while any item is still pending or running.
func (j *Job) FinishedAt() (time.Time, bool) {
	var last time.Time
	for _, item := range j.Items {
		if !item.Status.IsTerminal() {
			return time.Time{}, false
		}
		if item.FinishedAt.After(last) {
			last = item.FinishedAt
		}
	}
	return last, len(j.Items) > 0
}

// Files lists result files of done items in submission order.
func (j *Job) Files() []string {
	files := make([]string, 0, len(j.Items))
	for _, item := range j.Items {
		if item.Status == ItemDone {
			files = append(files, item.ResultFile)
		}
	}
	return files
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.Items = append([]Item(nil), job.Items...)
	return &tmp
}
