package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusService_UnknownJob(t *testing.T) {
	svc := NewStatusService(NewRegistry(nil))
	_, err := svc.Status("00000000")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.True(t, IsErrorType(err, TypeNotFound))
}

func TestStatusService_Artifact(t *testing.T) {
	registry := NewRegistry(nil)
	require.NoError(t, registry.Create(context.Background(), newTestJob("aaaa0001", "https://a", "https://b")))
	_, err := registry.MarkRunning("aaaa0001", 0)
	require.NoError(t, err)
	_, err = registry.MarkDone("aaaa0001", 0, "aaaa0001_1_a.mp3")
	require.NoError(t, err)

	svc := NewStatusService(registry)
	assert.NoError(t, svc.Artifact("aaaa0001", "aaaa0001_1_a.mp3"))
	assert.ErrorIs(t, svc.Artifact("aaaa0001", "aaaa0001_2_b.mp3"), ErrArtifactNotFound)
	assert.ErrorIs(t, svc.Artifact("ffffffff", "x.mp3"), ErrJobNotFound)

	err = svc.Artifact("aaaa0001", "aaaa0001_2_b.mp3")
	assert.True(t, IsErrorType(err, TypeNotFound))
	assert.Equal(t, "file not found", Message(err))
}

func TestStatusService_EvictedJobIsNotFound(t *testing.T) {
	registry := NewRegistry(nil)
	require.NoError(t, registry.Create(context.Background(), newTestJob("aaaa0001", "https://a")))
	registry.Evict(context.Background(), "aaaa0001")

	_, err := NewStatusService(registry).Status("aaaa0001")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
