package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/resume"
)

// MemoryStore keeps versions and pointers in process memory. It backs
// tests and single-node deployments that run without Postgres, and
// follows the same write sequence and error taxonomy as PostgresStore.
type MemoryStore struct {
	mu       sync.RWMutex
	pointers map[uuid.UUID]*models.Pointer
	versions map[uuid.UUID][]*models.Version
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pointers: make(map[uuid.UUID]*models.Pointer),
		versions: make(map[uuid.UUID][]*models.Version),
	}
}

// EnsurePointer provisions the pointer row for a resume
func (s *MemoryStore) EnsurePointer(ctx context.Context, resumeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pointers[resumeID]; !ok {
		now := time.Now()
		s.pointers[resumeID] = &models.Pointer{
			ResumeID:  resumeID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return nil
}

// Load resolves the pointer and returns a copy of the version it references
func (s *MemoryStore) Load(ctx context.Context, resumeID uuid.UUID) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ptr, ok := s.pointers[resumeID]
	if !ok {
		return nil, fmt.Errorf("resume %s: %w", resumeID, ErrNotFound)
	}
	if ptr.CurrentVersionID == nil {
		return nil, fmt.Errorf("resume %s has no versions: %w", resumeID, ErrNotFound)
	}

	for _, v := range s.versions[resumeID] {
		if v.ID == *ptr.CurrentVersionID {
			return copyVersion(v)
		}
	}

	return nil, fmt.Errorf("resume %s pointer -> %s: %w", resumeID, *ptr.CurrentVersionID, ErrBrokenPointer)
}

// LoadVersion returns a copy of one specific version
func (s *MemoryStore) LoadVersion(ctx context.Context, resumeID, versionID uuid.UUID) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[resumeID] {
		if v.ID == versionID {
			return copyVersion(v)
		}
	}

	return nil, fmt.Errorf("version %s: %w", versionID, ErrNotFound)
}

// History returns versions newest-first
func (s *MemoryStore) History(ctx context.Context, resumeID uuid.UUID, limit int) ([]*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.versions[resumeID]
	out := make([]*models.Version, 0, len(rows))
	for _, v := range rows {
		cp, err := copyVersion(v)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].VersionNumber > out[j].VersionNumber
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Persist appends a new current version, repoints the pointer, then
// supersedes the rest, mirroring the Postgres write order.
func (s *MemoryStore) Persist(ctx context.Context, resumeID uuid.UUID, content resume.Content, authorID string) (*models.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ptr, ok := s.pointers[resumeID]
	if !ok {
		return nil, fmt.Errorf("resume %s not provisioned: %w", resumeID, ErrNotFound)
	}

	snapshot, err := content.Clone()
	if err != nil {
		return nil, err
	}

	var max int64
	for _, v := range s.versions[resumeID] {
		if v.VersionNumber > max {
			max = v.VersionNumber
		}
	}

	next := &models.Version{
		ID:                  uuid.New(),
		ResumeID:            resumeID,
		VersionNumber:       max + 1,
		Status:              models.StatusCurrent,
		Content:             snapshot,
		CompletenessPercent: resume.CompletenessPercent(snapshot),
		CreatedBy:           authorID,
		CreatedAt:           time.Now(),
	}
	s.versions[resumeID] = append(s.versions[resumeID], next)

	id := next.ID
	ptr.CurrentVersionID = &id
	ptr.UpdatedAt = next.CreatedAt

	for _, v := range s.versions[resumeID] {
		if v.ID != next.ID {
			v.Status = models.StatusSuperseded
		}
	}

	return copyVersion(next)
}

func copyVersion(v *models.Version) (*models.Version, error) {
	content, err := v.Content.Clone()
	if err != nil {
		return nil, fmt.Errorf("copy version %s: %w", v.ID, err)
	}
	cp := *v
	cp.Content = content
	return &cp, nil
}
