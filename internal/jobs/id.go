package jobs

import (
	"strings"

	"github.com/google/uuid"
)

const jobIDLength = 8

// NewJobID returns the first 8 hex characters of a random UUID.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:jobIDLength]
}
