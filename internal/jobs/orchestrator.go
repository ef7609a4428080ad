package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/MimeLyc/tune-ripper/internal/source"
	"github.com/MimeLyc/tune-ripper/internal/telemetry"
	"github.com/MimeLyc/tune-ripper/pkg/log"
)

const (
	defaultConcurrency = 2
	pendingBuffer      = 1024
	maxIDAttempts      = 5
)

// ItemRequest is everything a Processor needs to convert one link.
type ItemRequest struct {
	JobID   string
	Index   int
	Total   int
	URL     string
	Source  source.Kind
	Browser string
}

// Processor downloads and converts one link, returning the artifact file
// name. The error text becomes the item's failure reason.
type Processor interface {
	Process(ctx context.Context, req ItemRequest) (string, error)
}

type ProcessorFunc func(ctx context.Context, req ItemRequest) (string, error)

func (f ProcessorFunc) Process(ctx context.Context, req ItemRequest) (string, error) {
	return f(ctx, req)
}

// Orchestrator accepts batches and runs their items on a worker pool shared
// by every job. Items wait in FIFO order once all workers are busy.
type Orchestrator struct {
	workerCount int
	registry    *Registry
	processor   Processor
	recorder    *telemetry.Recorder
	newID       func() string

	mu       sync.Mutex
	started  bool
	pending  chan itemRef
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Orchestrator)

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workerCount = n
		}
	}
}

func WithRecorder(r *telemetry.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func NewOrchestrator(registry *Registry, processor Processor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workerCount: defaultConcurrency,
		registry:    registry,
		processor:   processor,
		newID:       NewJobID,
		pending:     make(chan itemRef, pendingBuffer),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.recorder == nil {
		o.recorder = telemetry.Default()
	}
	return o
}

// Submit creates a job for a validated batch and schedules its items.
// It returns as soon as the job is registered.
func (o *Orchestrator) Submit(ctx context.Context, batch Batch) (*Job, error) {
	if len(batch.URLs) == 0 {
		return nil, NewError(TypeValidation, "no links provided")
	}

	items := make([]Item, len(batch.URLs))
	for i, u := range batch.URLs {
		items[i] = Item{Index: i, URL: u, Status: ItemPending}
	}

	var job *Job
	for attempt := 0; ; attempt++ {
		job = &Job{
			ID:      o.newID(),
			Source:  batch.Source,
			Browser: batch.Browser,
			Items:   items,
		}
		err := o.registry.Create(ctx, job)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrJobExists) || attempt+1 >= maxIDAttempts {
			return nil, err
		}
		log.Debug("Job id %s already in use, regenerating", job.ID)
	}

	o.recorder.JobSubmitted(ctx, batch.Source.String())
	log.Info("Job %s accepted: %d %s link(s)", job.ID, len(items), batch.Source.Label())

	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if started {
		for i := range items {
			o.enqueue(itemRef{jobID: job.ID, index: i})
		}
	}

	snapshot, _ := o.registry.Get(job.ID)
	return snapshot, nil
}

// Start launches the workers and dispatches items that were pending before
// the pool existed, including items restored from the store.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	for _, ref := range o.registry.pending() {
		o.enqueue(ref)
	}

	for range o.workerCount {
		o.wg.Add(1)
		go o.worker()
	}
	log.Info("Conversion pool started with %d worker(s)", o.workerCount)
}

// Stop halts the workers after their current item. Items not yet picked up
// stay pending.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.wg.Wait()
	})
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()

	for {
		select {
		case <-o.stopCh:
			return
		case ref := <-o.pending:
			o.runItem(ref)
		}
	}
}

func (o *Orchestrator) enqueue(ref itemRef) {
	select {
	case o.pending <- ref:
	default:
		go func() {
			select {
			case o.pending <- ref:
			case <-o.stopCh:
			}
		}()
	}
}

func (o *Orchestrator) runItem(ref itemRef) {
	job, ok := o.registry.Get(ref.jobID)
	if !ok {
		return
	}
	if _, err := o.registry.MarkRunning(ref.jobID, ref.index); err != nil {
		// Already claimed by another dispatch of the same item.
		log.Debug("Skipping item %d of job %s: %v", ref.index, ref.jobID, err)
		return
	}

	req := ItemRequest{
		JobID:   job.ID,
		Index:   ref.index,
		Total:   len(job.Items),
		URL:     job.Items[ref.index].URL,
		Source:  job.Source,
		Browser: job.Browser,
	}

	ctx, finish := o.recorder.StartItem(context.Background(), req.JobID, req.Index, req.Source.String())
	var file string
	err := SafeExecute(func() error {
		var perr error
		file, perr = o.processor.Process(ctx, req)
		return perr
	})
	if err == nil && file == "" {
		err = NewError(TypeProcessing, "processor returned no file")
	}
	finish(err)

	var tr Transition
	if err != nil {
		log.Warn("Item %d of job %s failed: %v", req.Index, req.JobID, err)
		tr, err = o.registry.MarkFailed(req.JobID, req.Index, Message(err))
	} else {
		log.Info("Item %d of job %s converted: %s", req.Index, req.JobID, file)
		tr, err = o.registry.MarkDone(req.JobID, req.Index, file)
	}
	if err != nil {
		log.Error("Failed to record outcome of item %d of job %s: %v", req.Index, req.JobID, err)
		return
	}

	if tr.JobStatus.IsTerminal() {
		o.recorder.JobFinished(ctx, req.Source.String(), string(tr.JobStatus))
		log.Info("Job %s finished: %s", req.JobID, tr.JobStatus)
	}
}
