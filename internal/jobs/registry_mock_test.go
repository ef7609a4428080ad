package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LoadJobs(ctx context.Context) ([]*Job, error) {
	args := m.Called(ctx)
	jobs, _ := args.Get(0).([]*Job)
	return jobs, args.Error(1)
}

func (m *mockStore) SaveJob(ctx context.Context, job *Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockStore) UpdateItem(ctx context.Context, jobID string, item Item) error {
	return m.Called(ctx, jobID, item).Error(0)
}

func (m *mockStore) DeleteJob(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func TestRegistry_StoreFailuresDoNotFailOperations(t *testing.T) {
	store := &mockStore{}
	diskFull := errors.New("disk full")
	store.On("SaveJob", mock.Anything, mock.MatchedBy(func(j *Job) bool { return j.ID == "cafe0001" })).Return(diskFull).Once()
	store.On("UpdateItem", mock.Anything, "cafe0001", mock.MatchedBy(func(it Item) bool { return it.Status == ItemRunning })).Return(diskFull).Once()
	store.On("UpdateItem", mock.Anything, "cafe0001", mock.MatchedBy(func(it Item) bool { return it.Status == ItemDone })).Return(nil).Once()
	store.On("DeleteJob", mock.Anything, "cafe0001").Return(diskFull).Once()

	r := NewRegistry(store)
	require.NoError(t, r.Create(context.Background(), newTestJob("cafe0001", "https://youtu.be/a")))

	_, err := r.MarkRunning("cafe0001", 0)
	require.NoError(t, err)
	tr, err := r.MarkDone("cafe0001", 0, "cafe0001_a.mp3")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, tr.JobStatus)

	_, ok := r.Evict(context.Background(), "cafe0001")
	assert.True(t, ok)
	assert.Zero(t, r.Len())

	store.AssertExpectations(t)
}

func TestRegistry_RestoreLoadFailure(t *testing.T) {
	store := &mockStore{}
	store.On("LoadJobs", mock.Anything).Return(nil, errors.New("connection refused")).Once()

	err := NewRegistry(store).Restore(context.Background())

	require.Error(t, err)
	assert.True(t, IsErrorType(err, TypePersistence))
	assert.Contains(t, err.Error(), "connection refused")
	store.AssertExpectations(t)
}

func TestRegistry_RejectedTransitionIsNotPersisted(t *testing.T) {
	store := &mockStore{}
	store.On("SaveJob", mock.Anything, mock.Anything).Return(nil).Once()

	r := NewRegistry(store)
	require.NoError(t, r.Create(context.Background(), newTestJob("cafe0002", "https://youtu.be/a")))

	_, err := r.MarkDone("cafe0002", 0, "cafe0002_a.mp3")
	require.ErrorIs(t, err, ErrInvalidTransition)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything, mock.Anything)
}
