package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/tune-ripper/pkg/log"
)

// Registry is the JobStore. The map lock only guards membership; each
// entry has its own lock over its items so unrelated jobs never contend.
type Registry struct {
	store Store
	now   func() time.Time

	mu   sync.RWMutex
	jobs map[string]*entry
}

type entry struct {
	mu  sync.RWMutex
	job *Job
}

// Transition is the outcome of an item state change.
type Transition struct {
	Item      Item
	JobStatus Status
}

type itemRef struct {
	jobID string
	index int
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		now:   time.Now,
		jobs:  make(map[string]*entry),
	}
}

// Restore loads persisted jobs. Items interrupted while running are reset to
// pending so the orchestrator dispatches them again.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	loaded, err := r.store.LoadJobs(ctx)
	if err != nil {
		return NewErrorWithCause(TypePersistence, "load jobs", err)
	}

	reset := make([]itemRef, 0)
	r.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		for i := range job.Items {
			if job.Items[i].Status == ItemRunning {
				job.Items[i].Status = ItemPending
				job.Items[i].StartedAt = time.Time{}
				reset = append(reset, itemRef{jobID: job.ID, index: i})
			}
		}
		r.jobs[job.ID] = &entry{job: job}
	}
	r.mu.Unlock()

	for _, ref := range reset {
		if job, ok := r.Get(ref.jobID); ok {
			r.persistItem(ref.jobID, job.Items[ref.index])
		}
	}
	if len(loaded) > 0 {
		log.Info("Restored %d job(s) from store, %d interrupted item(s) requeued", len(loaded), len(reset))
	}
	return nil
}

// Create registers a new job with every item pending.
func (r *Registry) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return NewError(TypeValidation, "job id is required")
	}

	snapshot := cloneJob(job)
	for i := range snapshot.Items {
		snapshot.Items[i].Index = i
		snapshot.Items[i].Status = ItemPending
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = r.now()
	}

	r.mu.Lock()
	if _, exists := r.jobs[snapshot.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobExists, snapshot.ID)
	}
	r.jobs[snapshot.ID] = &entry{job: snapshot}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveJob(ctx, cloneJob(snapshot)); err != nil {
			log.Error("Failed to persist job %s: %v", snapshot.ID, err)
		}
	}
	return nil
}

// Get returns a deep copy of the job.
func (r *Registry) Get(id string) (*Job, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneJob(e.job), true
}

// List returns snapshots of all live jobs, oldest first.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	ret := make([]*Job, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		ret = append(ret, cloneJob(e.job))
		e.mu.RUnlock()
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Evict removes a job from the registry and the store.
func (r *Registry) Evict(ctx context.Context, id string) (*Job, bool) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	if r.store != nil {
		if err := r.store.DeleteJob(ctx, id); err != nil {
			log.Error("Failed to delete job %s from store: %v", id, err)
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneJob(e.job), true
}

func (r *Registry) MarkRunning(id string, index int) (Transition, error) {
	return r.transition(id, index, ItemPending, func(item *Item, now time.Time) {
		item.Status = ItemRunning
		item.StartedAt = now
	})
}

func (r *Registry) MarkDone(id string, index int, resultFile string) (Transition, error) {
	return r.transition(id, index, ItemRunning, func(item *Item, now time.Time) {
		item.Status = ItemDone
		item.ResultFile = resultFile
		item.Error = ""
		item.FinishedAt = now
	})
}

func (r *Registry) MarkFailed(id string, index int, reason string) (Transition, error) {
	return r.transition(id, index, ItemRunning, func(item *Item, now time.Time) {
		item.Status = ItemFailed
		item.ResultFile = ""
		item.Error = reason
		item.FinishedAt = now
	})
}

// pending lists every pending item, oldest job first, in submission order.
func (r *Registry) pending() []itemRef {
	refs := make([]itemRef, 0)
	for _, job := range r.List() {
		for _, item := range job.Items {
			if item.Status == ItemPending {
				refs = append(refs, itemRef{jobID: job.ID, index: item.Index})
			}
		}
	}
	return refs
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	return e, ok
}

func (r *Registry) transition(id string, index int, from ItemStatus, apply func(*Item, time.Time)) (Transition, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Transition{}, notFound(id)
	}

	e.mu.Lock()
	if index < 0 || index >= len(e.job.Items) {
		e.mu.Unlock()
		return Transition{}, NewErrorWithCause(TypeInvalidTransition, "no such item", ErrInvalidTransition).
			WithContext("job_id", id).
			WithContext("index", index)
	}
	item := &e.job.Items[index]
	if item.Status != from {
		status := item.Status
		e.mu.Unlock()
		return Transition{}, NewErrorWithCause(TypeInvalidTransition,
			fmt.Sprintf("item is %s, not %s", status, from), ErrInvalidTransition).
			WithContext("job_id", id).
			WithContext("index", index)
	}
	apply(item, r.now())
	out := Transition{Item: *item, JobStatus: Reduce(e.job.Items)}
	e.mu.Unlock()

	r.persistItem(id, out.Item)
	return out, nil
}

func (r *Registry) persistItem(jobID string, item Item) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateItem(context.Background(), jobID, item); err != nil {
		log.Error("Failed to persist item %d of job %s: %v", item.Index, jobID, err)
	}
}
