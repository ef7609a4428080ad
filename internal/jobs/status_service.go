package jobs

import "errors"

// ErrArtifactNotFound is returned when a file is not a done item's result.
var ErrArtifactNotFound = errors.New("file not found")

// StatusService is the read-only view clients poll.
type StatusService struct {
	registry *Registry
}

func NewStatusService(registry *Registry) *StatusService {
	return &StatusService{registry: registry}
}

func (s *StatusService) Status(jobID string) (StatusReport, error) {
	job, ok := s.registry.Get(jobID)
	if !ok {
		return StatusReport{}, notFound(jobID)
	}
	return Summarize(job), nil
}

// Artifact checks that name is the result file of one of the job's done
// items.
func (s *StatusService) Artifact(jobID, name string) error {
	job, ok := s.registry.Get(jobID)
	if !ok {
		return notFound(jobID)
	}
	for _, f := range job.Files() {
		if f == name {
			return nil
		}
	}
	return NewErrorWithCause(TypeNotFound, ErrArtifactNotFound.Error(), ErrArtifactNotFound).
		WithContext("job_id", jobID).
		WithContext("file", name)
}
