// Package resumesync binds the store, the merge rules, validation, and
// the change feed into the interactive save path and the per-client
// session.
package resumesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/resume"
	"github.com/capstack/origination/common/store"
	"github.com/capstack/origination/common/validate"
)

// SaveResult carries the persisted version and the merge decision log
type SaveResult struct {
	Version   *models.Version   `json:"version"`
	Decisions []resume.Decision `json:"decisions"`
}

// Writer executes interactive saves: load, merge, validate, persist,
// announce. A write conflict is retried once against a re-fetched
// snapshot before surfacing to the caller.
type Writer struct {
	store     store.Store
	validator *validate.Validator
	feed      notify.Feed
	log       *logger.Logger
}

// NewWriter creates a Writer. The validator and feed are optional;
// without them saves still persist, just without warnings or
// announcements.
func NewWriter(st store.Store, v *validate.Validator, feed notify.Feed, log *logger.Logger) *Writer {
	return &Writer{store: st, validator: v, feed: feed, log: log}
}

// Save merges an interactive update into the latest version and
// persists the result as a new one.
func (w *Writer) Save(ctx context.Context, resumeID uuid.UUID, upd resume.Update, actor string) (*SaveResult, error) {
	result, err := w.attempt(ctx, resumeID, upd, actor)
	if errors.Is(err, store.ErrWriteConflict) {
		// Someone saved between our load and our write. Merge once
		// more against the fresher snapshot.
		w.log.Warn("version conflict during save, retrying", "resume_id", resumeID)
		result, err = w.attempt(ctx, resumeID, upd, actor)
	}
	if err != nil {
		return nil, err
	}

	w.log.Debug("interactive save complete",
		"resume_id", resumeID,
		"version", result.Version.VersionNumber,
		"actor", actor)

	w.announce(ctx, resumeID, actor)
	return result, nil
}

func (w *Writer) attempt(ctx context.Context, resumeID uuid.UUID, upd resume.Update, actor string) (*SaveResult, error) {
	latest, err := w.store.Load(ctx, resumeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resume: %w", err)
	}

	merged, decisions, err := resume.Merge(latest.Content, upd, resume.PolicyInteractive)
	if err != nil {
		return nil, err
	}

	if w.validator != nil {
		if added := w.validator.Apply(&merged); added > 0 {
			w.log.Debug("validation attached warnings", "resume_id", resumeID, "count", added)
		}
	}

	version, err := w.store.Persist(ctx, resumeID, merged, actor)
	if err != nil {
		return nil, err
	}

	return &SaveResult{Version: version, Decisions: decisions}, nil
}

// announce publishes the change event. The version is already durable,
// so a publish failure costs liveness for other viewers, not
// correctness; it is logged and swallowed.
func (w *Writer) announce(ctx context.Context, resumeID uuid.UUID, actor string) {
	if w.feed == nil {
		return
	}
	event := notify.Event{
		Table:    "resume_versions",
		Type:     notify.EventInsert,
		ResumeID: resumeID,
		Actor:    actor,
	}
	if err := w.feed.Publish(ctx, event); err != nil {
		w.log.Error("failed to publish change event", "resume_id", resumeID, "error", err)
	}
}
