package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/resume"
)

func sampleContent(value string) resume.Content {
	return resume.Content{
		Sections: map[string]resume.Section{
			"sectionA": {
				"fieldX": &resume.FieldRecord{Value: value, Source: resume.UserInput()},
			},
		},
		Locks: resume.LockMap{"fieldX": true},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	resumeID := uuid.New()

	require.NoError(t, s.EnsurePointer(ctx, resumeID))

	written, err := s.Persist(ctx, resumeID, sampleContent("5"), "user:amy")
	require.NoError(t, err)
	assert.Equal(t, int64(1), written.VersionNumber)
	assert.Equal(t, models.StatusCurrent, written.Status)

	loaded, err := s.Load(ctx, resumeID)
	require.NoError(t, err)
	assert.Equal(t, written.ID, loaded.ID)
	assert.Equal(t, "5", loaded.Content.Field("sectionA", "fieldX").Value)
	assert.True(t, loaded.Content.Locked("fieldX"))
	assert.Equal(t, "user:amy", loaded.CreatedBy)
}

func TestMemoryStoreSingleCurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	resumeID := uuid.New()

	require.NoError(t, s.EnsurePointer(ctx, resumeID))

	for _, v := range []string{"1", "2", "3"} {
		_, err := s.Persist(ctx, resumeID, sampleContent(v), "user:amy")
		require.NoError(t, err)
	}

	history, err := s.History(ctx, resumeID, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)

	currents := 0
	for _, v := range history {
		if v.Status == models.StatusCurrent {
			currents++
		}
	}
	assert.Equal(t, 1, currents)

	// Newest-first ordering, and the pointer resolves to the newest.
	assert.Equal(t, int64(3), history[0].VersionNumber)
	loaded, err := s.Load(ctx, resumeID)
	require.NoError(t, err)
	assert.Equal(t, history[0].ID, loaded.ID)
	assert.Equal(t, "3", loaded.Content.Field("sectionA", "fieldX").Value)
}

func TestMemoryStoreHistoryLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	resumeID := uuid.New()

	require.NoError(t, s.EnsurePointer(ctx, resumeID))
	for _, v := range []string{"1", "2", "3", "4"} {
		_, err := s.Persist(ctx, resumeID, sampleContent(v), "user:amy")
		require.NoError(t, err)
	}

	history, err := s.History(ctx, resumeID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(4), history[0].VersionNumber)
	assert.Equal(t, int64(3), history[1].VersionNumber)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Load(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Persist(ctx, uuid.New(), sampleContent("5"), "user:amy")
	assert.ErrorIs(t, err, ErrNotFound)

	// Provisioned but never written also reads as absent.
	resumeID := uuid.New()
	require.NoError(t, s.EnsurePointer(ctx, resumeID))
	_, err = s.Load(ctx, resumeID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadVersion(ctx, resumeID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreBrokenPointer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	resumeID := uuid.New()

	require.NoError(t, s.EnsurePointer(ctx, resumeID))
	_, err := s.Persist(ctx, resumeID, sampleContent("5"), "user:amy")
	require.NoError(t, err)

	// Repoint at a version that does not exist.
	s.mu.Lock()
	bogus := uuid.New()
	s.pointers[resumeID].CurrentVersionID = &bogus
	s.mu.Unlock()

	_, err = s.Load(ctx, resumeID)
	assert.ErrorIs(t, err, ErrBrokenPointer)
}

func TestMemoryStoreLoadCopiesContent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	resumeID := uuid.New()

	require.NoError(t, s.EnsurePointer(ctx, resumeID))
	_, err := s.Persist(ctx, resumeID, sampleContent("5"), "user:amy")
	require.NoError(t, err)

	first, err := s.Load(ctx, resumeID)
	require.NoError(t, err)
	first.Content.Field("sectionA", "fieldX").Value = "tampered"

	second, err := s.Load(ctx, resumeID)
	require.NoError(t, err)
	assert.Equal(t, "5", second.Content.Field("sectionA", "fieldX").Value)
}

func TestMemoryStoreEnsurePointerIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	resumeID := uuid.New()

	require.NoError(t, s.EnsurePointer(ctx, resumeID))
	_, err := s.Persist(ctx, resumeID, sampleContent("5"), "user:amy")
	require.NoError(t, err)

	// A second provision call must not disturb the pointer.
	require.NoError(t, s.EnsurePointer(ctx, resumeID))

	loaded, err := s.Load(ctx, resumeID)
	require.NoError(t, err)
	assert.Equal(t, "5", loaded.Content.Field("sectionA", "fieldX").Value)
}
