package autofill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/metrics"
	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/queue"
	"github.com/capstack/origination/common/resume"
	"github.com/capstack/origination/common/store"
)

var (
	// ErrExtractionFailure marks a run that produced nothing. No
	// version is written when it is returned.
	ErrExtractionFailure = errors.New("document extraction failed")

	// ErrInFlight rejects a second run for a resume that already has
	// one running in this process.
	ErrInFlight = errors.New("autofill already in flight for this resume")
)

// CompletionTopic carries Completion signals on the in-process bus
const CompletionTopic = "resume.autofill.completed"

// InflightKey is the redis key that guards one resume's autofill run
// across processes. The enqueuing side takes it with SetNX; the worker
// releases it when the run finishes.
func InflightKey(resumeID uuid.UUID) string {
	return fmt.Sprintf("autofill:inflight:%s", resumeID)
}

// Completion is published when a run finishes, success or failure, so
// interested parties (the sync session, the fanout) can react without
// polling. A failed run carries Error and a zero VersionID; no version
// was written.
type Completion struct {
	JobID     uuid.UUID         `json:"job_id"`
	ResumeID  uuid.UUID         `json:"resume_id"`
	VersionID uuid.UUID         `json:"version_id"`
	Actor     string            `json:"actor"`
	Decisions []resume.Decision `json:"decisions"`
	Metrics   map[string]any    `json:"metrics,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Result is what a finished run hands back to its caller
type Result struct {
	Version   *models.Version   `json:"version"`
	Decisions []resume.Decision `json:"decisions"`
}

// Orchestrator coordinates one extraction run end to end: extract,
// merge against the freshest snapshot, persist, announce. The merge is
// all or nothing; a failed run leaves the resume untouched.
type Orchestrator struct {
	store     store.Store
	extractor Extractor
	feed      notify.Feed
	bus       queue.Bus
	log       *logger.Logger
	timeout   time.Duration

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewOrchestrator(st store.Store, extractor Extractor, feed notify.Feed, bus queue.Bus, log *logger.Logger, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:     st,
		extractor: extractor,
		feed:      feed,
		bus:       bus,
		log:       log,
		timeout:   timeout,
		inflight:  make(map[uuid.UUID]struct{}),
	}
}

// Run executes one autofill job. Only one run per resume may be active
// in this process; callers that need a cross-process guard hold one in
// redis around this call.
func (o *Orchestrator) Run(ctx context.Context, job models.AutofillJob) (*Result, error) {
	if !o.begin(job.ResumeID) {
		return nil, ErrInFlight
	}
	defer o.end(job.ResumeID)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	actor := job.Actor
	if actor == "" {
		actor = "autofill:" + shortID(job.ID)
	}

	log := o.log.WithResumeID(job.ResumeID).WithJobID(job.ID)
	log.Info("starting autofill run", "documents", len(job.DocumentRefs), "actor", actor)

	rm := metrics.CaptureStart()
	started := time.Now()

	candidates, err := o.extractor.Extract(ctx, job.ResumeID, job.DocumentRefs)
	if err != nil {
		log.Error("extraction failed, resume left untouched", "error", err)
		err = fmt.Errorf("%w: %w", ErrExtractionFailure, err)
		o.announceFailure(ctx, job, actor, err)
		return nil, err
	}

	result, err := o.apply(ctx, job.ResumeID, candidates, actor)
	if errors.Is(err, store.ErrWriteConflict) {
		// Someone saved between our load and our write. Merge once
		// more against the fresher snapshot.
		log.Warn("version conflict during autofill write, retrying")
		result, err = o.apply(ctx, job.ResumeID, candidates, actor)
	}
	if err != nil {
		o.announceFailure(ctx, job, actor, err)
		return nil, err
	}

	rm.Finalize()
	log.Info("autofill run complete",
		"version", result.Version.VersionNumber,
		"decisions", len(result.Decisions),
		"execution_time_ms", time.Since(started).Milliseconds(),
		"memory_peak_mb", rm.MemoryPeakMB)

	o.announce(ctx, job, actor, result, rm)

	return result, nil
}

// apply merges the candidates into the latest snapshot and persists
// the outcome as a new version.
func (o *Orchestrator) apply(ctx context.Context, resumeID uuid.UUID, candidates map[string]resume.Section, actor string) (*Result, error) {
	latest, err := o.store.Load(ctx, resumeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resume: %w", err)
	}

	merged, decisions, err := resume.Merge(latest.Content, resume.Update{Sections: candidates}, resume.PolicyAutofill)
	if err != nil {
		return nil, err
	}

	version, err := o.store.Persist(ctx, resumeID, merged, actor)
	if err != nil {
		return nil, err
	}

	return &Result{Version: version, Decisions: decisions}, nil
}

// announce publishes the change event and the completion signal. The
// write already happened, so announcements go out even if the caller's
// context has since been cancelled.
func (o *Orchestrator) announce(ctx context.Context, job models.AutofillJob, actor string, result *Result, rm *metrics.RunMetrics) {
	ctx = context.WithoutCancel(ctx)

	if o.feed != nil {
		event := notify.Event{
			Table:    "resume_versions",
			Type:     notify.EventInsert,
			ResumeID: job.ResumeID,
			Actor:    actor,
		}
		if err := o.feed.Publish(ctx, event); err != nil {
			o.log.Error("failed to publish change event",
				"resume_id", job.ResumeID, "error", err)
		}
	}

	if o.bus != nil {
		completion := Completion{
			JobID:     job.ID,
			ResumeID:  job.ResumeID,
			VersionID: result.Version.ID,
			Actor:     actor,
			Decisions: result.Decisions,
			Metrics:   rm.ToMap(),
		}
		if err := o.bus.Publish(ctx, CompletionTopic, job.ResumeID.String(), completion); err != nil {
			o.log.Error("failed to publish completion signal",
				"resume_id", job.ResumeID, "error", err)
		}
	}
}

// announceFailure publishes a completion carrying the error. No change
// event goes out: nothing was written.
func (o *Orchestrator) announceFailure(ctx context.Context, job models.AutofillJob, actor string, runErr error) {
	if o.bus == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	completion := Completion{
		JobID:    job.ID,
		ResumeID: job.ResumeID,
		Actor:    actor,
		Error:    runErr.Error(),
	}
	if err := o.bus.Publish(ctx, CompletionTopic, job.ResumeID.String(), completion); err != nil {
		o.log.Error("failed to publish completion signal",
			"resume_id", job.ResumeID, "error", err)
	}
}

func (o *Orchestrator) begin(resumeID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.inflight[resumeID]; running {
		return false
	}
	o.inflight[resumeID] = struct{}{}
	return true
}

func (o *Orchestrator) end(resumeID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, resumeID)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
