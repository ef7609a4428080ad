package jobs

import "context"

// Store mirrors the registry for restart recovery. Items are written
// individually so concurrent workers never overwrite each other's progress.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	SaveJob(ctx context.Context, job *Job) error
	UpdateItem(ctx context.Context, jobID string, item Item) error
	DeleteJob(ctx context.Context, jobID string) error
}
