package store

import "errors"

var (
	// ErrNotFound means the resume, or the version asked for, does not exist
	ErrNotFound = errors.New("resume not found")

	// ErrBrokenPointer means the resource pointer references a version row
	// that does not exist. This is data corruption and is surfaced rather
	// than treated as an absent resume.
	ErrBrokenPointer = errors.New("resource pointer targets a missing version")

	// ErrWriteConflict means a concurrent writer claimed the same version
	// number. Callers retry once against a re-fetched snapshot before
	// surfacing it.
	ErrWriteConflict = errors.New("version number conflict")
)
