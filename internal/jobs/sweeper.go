package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/tune-ripper/pkg/file"
	"github.com/MimeLyc/tune-ripper/pkg/icron"
	"github.com/MimeLyc/tune-ripper/pkg/log"
)

// Policy is how long terminal jobs stay queryable.
type Policy struct {
	Complete time.Duration
	Error    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Complete: 10 * time.Minute, Error: 5 * time.Minute}
}

// Scheduler is the subset of *cron.Cron the sweeper registers with.
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
}

// Sweeper evicts terminal jobs past their retention and removes their files.
type Sweeper struct {
	registry    *Registry
	downloadDir string
	now         func() time.Time
	group       singleflight.Group

	mu        sync.RWMutex
	policy    Policy
	scheduler Scheduler
	entryID   cron.EntryID
	spec      string
}

func NewSweeper(registry *Registry, downloadDir string, policy Policy) *Sweeper {
	return &Sweeper{
		registry:    registry,
		downloadDir: downloadDir,
		now:         time.Now,
		policy:      policy,
	}
}

func (s *Sweeper) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Sweeper) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	log.Info("Retention updated: complete=%s error=%s", p.Complete, p.Error)
}

// Schedule registers the sweep with c at spec, replacing any earlier entry.
func (s *Sweeper) Schedule(c Scheduler, spec string) error {
	id, err := c.AddFunc(spec, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return NewErrorWithCause(TypeValidation, "invalid sweep schedule", err).WithContext("spec", spec)
	}

	s.mu.Lock()
	prev, prevScheduler := s.entryID, s.scheduler
	s.scheduler, s.entryID, s.spec = c, id, spec
	s.mu.Unlock()

	if prevScheduler != nil {
		prevScheduler.Remove(prev)
	}
	if next, err := s.NextRun(); err == nil {
		log.Info("Retention sweep scheduled: %s, next run at %s (in %s)",
			spec, next.Next.Format(time.RFC3339), next.TimeUntilNext.Round(time.Second))
	}
	return nil
}

// NextRun reports when the scheduled sweep fires next.
func (s *Sweeper) NextRun() (*icron.TriggerInfo, error) {
	spec := s.Spec()
	if spec == "" {
		return nil, NewError(TypeValidation, "sweep is not scheduled")
	}
	return icron.GetTriggerInfo(spec, s.now())
}

func (s *Sweeper) Spec() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spec
}

// Sweep runs one eviction pass and returns how many jobs were removed.
// Overlapping calls share a single pass.
func (s *Sweeper) Sweep(ctx context.Context) int {
	v, _, _ := s.group.Do("sweep", func() (any, error) {
		return s.sweep(ctx), nil
	})
	return v.(int)
}

func (s *Sweeper) sweep(ctx context.Context) int {
	policy := s.Policy()
	now := s.now()

	evicted := 0
	for _, job := range s.registry.List() {
		if !s.expired(job, policy, now) {
			continue
		}
		removed, ok := s.registry.Evict(ctx, job.ID)
		if !ok {
			continue
		}
		if err := file.RemoveIn(s.downloadDir, removed.Files()); err != nil {
			log.Warn("Failed to remove files of job %s: %v", job.ID, err)
		}
		evicted++
		log.Debug("Evicted job %s (%s)", job.ID, removed.Status())
	}
	if evicted > 0 {
		log.Info("Retention sweep evicted %d job(s)", evicted)
	}
	return evicted
}

func (s *Sweeper) expired(job *Job, policy Policy, now time.Time) bool {
	finishedAt, ok := job.FinishedAt()
	if !ok {
		return false
	}

	var ttl time.Duration
	switch job.Status() {
	case StatusComplete:
		ttl = policy.Complete
	case StatusError:
		ttl = policy.Error
	default:
		return false
	}
	return !now.Before(finishedAt.Add(ttl))
}
