package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/resume"
)

// VersionStatus represents a version row's lifecycle state
type VersionStatus string

const (
	StatusCurrent    VersionStatus = "current"
	StatusSuperseded VersionStatus = "superseded"
)

// Version is one immutable snapshot of a resume's content.
// Maps to: resume_versions table
type Version struct {
	// Unique version ID
	ID uuid.UUID `db:"id" json:"id"`

	// Resume this version belongs to
	ResumeID uuid.UUID `db:"resume_id" json:"resume_id"`

	// Monotonic per resume, assigned at insert
	VersionNumber int64 `db:"version_number" json:"version_number"`

	// 'current' or 'superseded'; exactly one current per resume
	// after a completed write
	Status VersionStatus `db:"status" json:"status"`

	// Full content snapshot, lock map included
	Content resume.Content `db:"content" json:"content"`

	// Completeness figure extracted from the content at write time
	CompletenessPercent int `db:"completeness_percent" json:"completeness_percent"`

	// Actor that produced this version
	CreatedBy string `db:"created_by" json:"created_by"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Pointer is the single mutable row per resume; every read resolves
// through it to the current version.
// Maps to: resources table
type Pointer struct {
	ResumeID         uuid.UUID  `db:"resume_id" json:"resume_id"`
	CurrentVersionID *uuid.UUID `db:"current_version_id" json:"current_version_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// AutofillJob is one queued extraction request
type AutofillJob struct {
	ID           uuid.UUID `json:"id"`
	ResumeID     uuid.UUID `json:"resume_id"`
	DocumentRefs []string  `json:"document_refs"`
	Actor        string    `json:"actor"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
