package resumesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/autofill"
	"github.com/capstack/origination/common/backoff"
	"github.com/capstack/origination/common/clock"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/resume"
	"github.com/capstack/origination/common/store"
)

// Session is one actor's live attachment to one resume. It serializes
// that actor's writes, arms echo suppression around each one, and keeps
// the notifier's snapshot stream flowing to the caller.
type Session struct {
	resumeID uuid.UUID
	actor    string
	writer   *Writer
	orch     *autofill.Orchestrator
	notifier *notify.Notifier
	log      *logger.Logger

	// writeMu serializes this session's own writes. Other actors'
	// writes are not blocked; the version counter arbitrates those.
	writeMu sync.Mutex
}

// SessionConfig bundles a session's collaborators
type SessionConfig struct {
	ResumeID uuid.UUID
	Actor    string
	Store    store.Store
	Writer   *Writer
	Feed     notify.Feed
	Logger   *logger.Logger

	// Orchestrator is optional; RunAutofill fails without one
	Orchestrator *autofill.Orchestrator

	// Clock, SuppressionWindow and ReloadRetry tune the notifier and
	// fall back to its defaults when zero.
	Clock             clock.Clock
	SuppressionWindow time.Duration
	ReloadRetry       backoff.Policy
}

func NewSession(cfg SessionConfig) *Session {
	notifier := notify.NewNotifier(notify.NotifierConfig{
		ResumeID: cfg.ResumeID,
		Actor:    cfg.Actor,
		Feed:     cfg.Feed,
		Loader: func(ctx context.Context) (*models.Version, error) {
			return cfg.Store.Load(ctx, cfg.ResumeID)
		},
		Clock:             cfg.Clock,
		Logger:            cfg.Logger,
		SuppressionWindow: cfg.SuppressionWindow,
		ReloadRetry:       cfg.ReloadRetry,
	})

	return &Session{
		resumeID: cfg.ResumeID,
		actor:    cfg.Actor,
		writer:   cfg.Writer,
		orch:     cfg.Orchestrator,
		notifier: notifier,
		log:      cfg.Logger,
	}
}

// Start attaches the session to the change feed
func (s *Session) Start(ctx context.Context) error {
	return s.notifier.Start(ctx)
}

// Snapshots streams fresh versions loaded after remote changes. The
// channel closes when the session does.
func (s *Session) Snapshots() <-chan *models.Version {
	return s.notifier.Snapshots()
}

// State reports the notifier's lifecycle state
func (s *Session) State() notify.State {
	return s.notifier.State()
}

// Save persists an interactive edit under this session's actor.
// Suppression is armed immediately before the write so the echo of
// this save is not mistaken for a remote change; if the save fails the
// window simply expires.
func (s *Session) Save(ctx context.Context, upd resume.Update) (*SaveResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.notifier.ArmSuppression()
	return s.writer.Save(ctx, s.resumeID, upd, s.actor)
}

// RunAutofill executes one extraction run against this resume. The run
// writes under its own actor, so this session reloads the outcome like
// any other viewer; Begin/EndAutofill collapse the run's events into a
// single reload.
func (s *Session) RunAutofill(ctx context.Context, documentRefs []string) (*autofill.Result, error) {
	if s.orch == nil {
		return nil, errors.New("session has no autofill orchestrator")
	}

	job := models.AutofillJob{
		ID:           uuid.New(),
		ResumeID:     s.resumeID,
		DocumentRefs: documentRefs,
		EnqueuedAt:   time.Now(),
	}

	s.notifier.BeginAutofill()
	defer s.notifier.EndAutofill(ctx)

	return s.orch.Run(ctx, job)
}

// Close detaches from the feed and closes the snapshot stream
func (s *Session) Close() {
	s.notifier.Stop()
}
