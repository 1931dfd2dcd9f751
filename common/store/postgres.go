package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/capstack/origination/common/db"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/resume"
)

const uniqueViolation = "23505"

// PostgresStore persists versions and the resource pointer in Postgres
type PostgresStore struct {
	db  *db.DB
	log *logger.Logger
}

// NewPostgresStore creates a new Postgres-backed store
func NewPostgresStore(db *db.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// EnsurePointer provisions the resource pointer row for a resume
func (s *PostgresStore) EnsurePointer(ctx context.Context, resumeID uuid.UUID) error {
	query := `
		INSERT INTO resources (resume_id)
		VALUES ($1)
		ON CONFLICT (resume_id) DO NOTHING
	`

	if _, err := s.db.Exec(ctx, query, resumeID); err != nil {
		return fmt.Errorf("failed to ensure resource pointer: %w", err)
	}

	return nil
}

// Load resolves the resource pointer and fetches the version it references
func (s *PostgresStore) Load(ctx context.Context, resumeID uuid.UUID) (*models.Version, error) {
	query := `
		SELECT r.current_version_id,
		       v.id, v.version_number, v.status, v.content,
		       v.completeness_percent, v.created_by, v.created_at
		FROM resources r
		LEFT JOIN resume_versions v ON v.id = r.current_version_id
		WHERE r.resume_id = $1
	`

	var (
		currentID    *uuid.UUID
		versionID    *uuid.UUID
		number       *int64
		status       *string
		rawContent   []byte
		completeness *int
		createdBy    *string
		createdAt    *time.Time
	)

	err := s.db.QueryRow(ctx, query, resumeID).Scan(
		&currentID, &versionID, &number, &status,
		&rawContent, &completeness, &createdBy, &createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resume %s: %w", resumeID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load resume %s: %w", resumeID, err)
	}

	if currentID == nil {
		// Provisioned but never written.
		return nil, fmt.Errorf("resume %s has no versions: %w", resumeID, ErrNotFound)
	}
	if versionID == nil {
		return nil, fmt.Errorf("resume %s pointer -> %s: %w", resumeID, *currentID, ErrBrokenPointer)
	}

	var content resume.Content
	if err := json.Unmarshal(rawContent, &content); err != nil {
		return nil, fmt.Errorf("failed to decode version %s content: %w", *versionID, err)
	}

	return &models.Version{
		ID:                  *versionID,
		ResumeID:            resumeID,
		VersionNumber:       *number,
		Status:              models.VersionStatus(*status),
		Content:             content,
		CompletenessPercent: *completeness,
		CreatedBy:           *createdBy,
		CreatedAt:           *createdAt,
	}, nil
}

// LoadVersion fetches one specific version of a resume
func (s *PostgresStore) LoadVersion(ctx context.Context, resumeID, versionID uuid.UUID) (*models.Version, error) {
	query := `
		SELECT id, resume_id, version_number, status, content,
		       completeness_percent, created_by, created_at
		FROM resume_versions
		WHERE resume_id = $1 AND id = $2
	`

	v, err := scanVersion(s.db.QueryRow(ctx, query, resumeID, versionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("version %s: %w", versionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load version %s: %w", versionID, err)
	}

	return v, nil
}

// History returns versions newest-first
func (s *PostgresStore) History(ctx context.Context, resumeID uuid.UUID, limit int) ([]*models.Version, error) {
	query := `
		SELECT id, resume_id, version_number, status, content,
		       completeness_percent, created_by, created_at
		FROM resume_versions
		WHERE resume_id = $1
		ORDER BY version_number DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, resumeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", resumeID, err)
	}
	defer rows.Close()

	var versions []*models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read version rows: %w", err)
	}

	return versions, nil
}

// Persist appends a new current version, repoints the resource pointer,
// then supersedes every other row. The three statements run in this
// order without a wrapping transaction: a crash after step 1 leaves an
// orphaned row the pointer never references, a crash after step 2
// leaves an extra 'current' row the next write corrects. The pointer is
// never repointed at a row that failed to insert.
func (s *PostgresStore) Persist(ctx context.Context, resumeID uuid.UUID, content resume.Content, authorID string) (*models.Version, error) {
	rawContent, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}

	newID := uuid.New()
	completeness := resume.CompletenessPercent(content)

	insert := `
		INSERT INTO resume_versions (id, resume_id, version_number, status, content, completeness_percent, created_by)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, 'current', $3, $4, $5
		FROM resume_versions
		WHERE resume_id = $2
		RETURNING version_number, created_at
	`

	var number int64
	var createdAt time.Time
	err = s.db.QueryRow(ctx, insert, newID, resumeID, rawContent, completeness, authorID).Scan(&number, &createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("resume %s: %w", resumeID, ErrWriteConflict)
		}
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}

	flip := `
		UPDATE resources
		SET current_version_id = $2, updated_at = NOW()
		WHERE resume_id = $1
	`

	tag, err := s.db.Exec(ctx, flip, resumeID, newID)
	if err != nil {
		return nil, fmt.Errorf("failed to repoint resume %s: %w", resumeID, err)
	}
	if tag.RowsAffected() == 0 {
		// The inserted row is orphaned, which is harmless: nothing
		// references it.
		return nil, fmt.Errorf("resume %s not provisioned: %w", resumeID, ErrNotFound)
	}

	supersede := `
		UPDATE resume_versions
		SET status = 'superseded'
		WHERE resume_id = $1 AND id <> $2 AND status = 'current'
	`

	if _, err := s.db.Exec(ctx, supersede, resumeID, newID); err != nil {
		return nil, fmt.Errorf("failed to supersede versions for %s: %w", resumeID, err)
	}

	s.log.Debug("version persisted",
		"resume_id", resumeID,
		"version_id", newID,
		"version_number", number,
		"created_by", authorID,
	)

	return &models.Version{
		ID:                  newID,
		ResumeID:            resumeID,
		VersionNumber:       number,
		Status:              models.StatusCurrent,
		Content:             content,
		CompletenessPercent: completeness,
		CreatedBy:           authorID,
		CreatedAt:           createdAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.Version, error) {
	var v models.Version
	var rawContent []byte
	var status string

	err := row.Scan(
		&v.ID, &v.ResumeID, &v.VersionNumber, &status,
		&rawContent, &v.CompletenessPercent, &v.CreatedBy, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Status = models.VersionStatus(status)
	if err := json.Unmarshal(rawContent, &v.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}

	return &v, nil
}
