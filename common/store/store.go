// Package store persists resume snapshots as append-only version rows
// behind a single mutable resource pointer per resume.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/resume"
)

// Store is the content store boundary. Load always resolves the
// resource pointer and fetches the exact version it references, never
// "latest by timestamp", so a superseded row is never read by accident.
// Persist is the only path by which content reaches storage.
type Store interface {
	// EnsurePointer provisions the resource pointer row for a resume.
	// Idempotent; called once when the parent entity is created.
	EnsurePointer(ctx context.Context, resumeID uuid.UUID) error

	// Load returns the version the pointer currently references.
	// Returns ErrNotFound when the resume is not provisioned or has no
	// versions yet, ErrBrokenPointer when the pointer target is gone.
	Load(ctx context.Context, resumeID uuid.UUID) (*models.Version, error)

	// LoadVersion returns one specific version of a resume
	LoadVersion(ctx context.Context, resumeID, versionID uuid.UUID) (*models.Version, error)

	// History returns versions newest-first, at most limit rows
	History(ctx context.Context, resumeID uuid.UUID, limit int) ([]*models.Version, error)

	// Persist appends a new current version and repoints the resource
	// pointer. Returns ErrWriteConflict when a concurrent writer claimed
	// the same version number.
	Persist(ctx context.Context, resumeID uuid.UUID, content resume.Content, authorID string) (*models.Version, error)
}
