package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/backoff"
	"github.com/capstack/origination/common/clock"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/models"
)

// State enumerates the notifier's lifecycle states
type State string

const (
	StateIdle         State = "idle"
	StateSubscribed   State = "subscribed"
	StateSuppressing  State = "suppressing-own-write"
	StateReloading    State = "reloading"
	StateUnsubscribed State = "unsubscribed"
)

// LoadFunc fetches the freshest snapshot of the observed resume
type LoadFunc func(ctx context.Context) (*models.Version, error)

// Notifier watches one resume's change feed on behalf of one actor.
// Remote changes trigger a reload of the freshest snapshot, republished
// on Snapshots. The notifier's own writes are not treated as remote
// updates: events carrying the local actor are always ignored, and a
// bounded suppression window armed just before each write absorbs one
// echo whose origin cannot be determined.
//
// Reload transitions happen on the feed goroutine; ArmSuppression,
// BeginAutofill, EndAutofill and Stop may be called from any goroutine.
type Notifier struct {
	resumeID uuid.UUID
	actor    string
	feed     Feed
	loader   LoadFunc
	clk      clock.Clock
	log      *logger.Logger
	window   time.Duration
	retry    backoff.Policy

	mu               sync.Mutex
	state            State
	suppressUntil    time.Time
	autofillInFlight bool
	reloadPending    bool
	sub              Subscription

	snapshots chan *models.Version
}

// NotifierConfig bundles the notifier's collaborators
type NotifierConfig struct {
	ResumeID uuid.UUID
	Actor    string
	Feed     Feed
	Loader   LoadFunc
	Clock    clock.Clock
	Logger   *logger.Logger

	// SuppressionWindow bounds how long an armed write may claim an
	// indeterminate-origin event as its own echo.
	SuppressionWindow time.Duration

	// ReloadRetry paces re-fetches that race replica propagation
	ReloadRetry backoff.Policy
}

// NewNotifier creates a notifier in the idle state
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = 2 * time.Second
	}
	if cfg.ReloadRetry.MaxAttempts == 0 {
		cfg.ReloadRetry = backoff.DefaultPolicy
	}

	return &Notifier{
		resumeID:  cfg.ResumeID,
		actor:     cfg.Actor,
		feed:      cfg.Feed,
		loader:    cfg.Loader,
		clk:       cfg.Clock,
		log:       cfg.Logger,
		window:    cfg.SuppressionWindow,
		retry:     cfg.ReloadRetry,
		state:     StateIdle,
		snapshots: make(chan *models.Version, 1),
	}
}

// State returns the current lifecycle state
func (n *Notifier) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Snapshots delivers reloaded versions, newest only: a slow reader
// observes the latest snapshot, not every intermediate one. The channel
// closes when the notifier stops.
func (n *Notifier) Snapshots() <-chan *models.Version {
	return n.snapshots
}

// Start subscribes to the change feed and begins handling events
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.feed.Subscribe(ctx, n.resumeID)
	if err != nil {
		return fmt.Errorf("subscribe to change feed: %w", err)
	}

	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		sub.Close()
		return errors.New("notifier already started")
	}
	n.sub = sub
	n.state = StateSubscribed
	n.mu.Unlock()

	n.log.Debug("notifier subscribed", "resume_id", n.resumeID, "actor", n.actor)

	go n.loop(ctx)
	return nil
}

// Stop releases the subscription. Safe to call more than once.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.state == StateUnsubscribed {
		n.mu.Unlock()
		return
	}
	started := n.sub != nil
	n.state = StateUnsubscribed
	sub := n.sub
	n.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			n.log.Warn("failed to close change feed subscription", "resume_id", n.resumeID, "error", err)
		}
	}
	if !started {
		close(n.snapshots)
	}
}

// ArmSuppression must be called immediately before persisting a local
// write. The window it opens lets the write's own echo come back from
// the feed without triggering a reload; the first matching event
// consumes it.
func (n *Notifier) ArmSuppression() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.suppressUntil = n.clk.Now().Add(n.window)
	if n.state == StateSubscribed {
		n.state = StateSuppressing
	}
}

// BeginAutofill marks an extraction batch as in flight. Remote events
// for this resume are coalesced until EndAutofill.
func (n *Notifier) BeginAutofill() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.autofillInFlight = true
}

// EndAutofill clears the in-flight flag. If events arrived during the
// batch they collapse into exactly one reload, so observers never load
// a state the batch was about to overwrite.
func (n *Notifier) EndAutofill(ctx context.Context) {
	n.mu.Lock()
	n.autofillInFlight = false

	if n.state == StateIdle || n.state == StateUnsubscribed {
		n.reloadPending = false
		n.mu.Unlock()
		return
	}
	// A reload already in progress drains the pending flag itself.
	if !n.reloadPending || n.state == StateReloading {
		n.mu.Unlock()
		return
	}
	n.reloadPending = false
	n.state = StateReloading
	n.mu.Unlock()

	n.runReload(ctx)
}

func (n *Notifier) loop(ctx context.Context) {
	defer func() {
		n.mu.Lock()
		n.state = StateUnsubscribed
		close(n.snapshots)
		n.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.sub.Events():
			if !ok {
				return
			}
			n.handleEvent(ctx, ev)
		}
	}
}

func (n *Notifier) handleEvent(ctx context.Context, ev Event) {
	n.mu.Lock()

	if n.state == StateIdle || n.state == StateUnsubscribed {
		n.mu.Unlock()
		return
	}
	if ev.ResumeID != n.resumeID {
		n.mu.Unlock()
		return
	}

	windowActive := n.clk.Now().Before(n.suppressUntil)
	if !windowActive && n.state == StateSuppressing {
		// The window lapsed without an echo; back to normal handling.
		n.state = StateSubscribed
	}

	own := ev.Actor != "" && ev.Actor == n.actor
	indeterminate := ev.Actor == ""

	if own || (indeterminate && windowActive) {
		if windowActive {
			// One echo consumes the window.
			n.suppressUntil = time.Time{}
			if n.state == StateSuppressing {
				n.state = StateSubscribed
			}
		}
		n.log.Debug("suppressed own write echo", "resume_id", n.resumeID, "actor", ev.Actor)
		n.mu.Unlock()
		return
	}

	if n.autofillInFlight || n.state == StateReloading {
		n.reloadPending = true
		n.log.Debug("coalescing change event", "resume_id", n.resumeID, "actor", ev.Actor)
		n.mu.Unlock()
		return
	}

	n.state = StateReloading
	n.mu.Unlock()

	n.runReload(ctx)
}

// runReload re-fetches until the pending flag stays clear. Only one
// runReload executes at a time: entry requires flipping the state to
// reloading under the lock.
func (n *Notifier) runReload(ctx context.Context) {
	for {
		n.reload(ctx)

		n.mu.Lock()
		if n.state == StateReloading {
			n.state = StateSubscribed
		}
		again := n.reloadPending && n.state == StateSubscribed && !n.autofillInFlight
		if again {
			n.reloadPending = false
			n.state = StateReloading
		}
		n.mu.Unlock()

		if !again {
			return
		}
	}
}

// reload fetches the freshest snapshot with bounded retries and
// republishes it. Failures are logged and swallowed: the subscription
// stays alive and observers keep the last known snapshot.
func (n *Notifier) reload(ctx context.Context) {
	var latest *models.Version
	err := backoff.Retry(ctx, n.clk, n.retry, func(ctx context.Context) error {
		v, err := n.loader(ctx)
		if err != nil {
			return err
		}
		latest = v
		return nil
	})
	if err != nil {
		n.log.Error("reload failed, keeping last known snapshot", "resume_id", n.resumeID, "error", err)
		return
	}

	n.publish(latest)
}

func (n *Notifier) publish(v *models.Version) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateUnsubscribed {
		return
	}

	for {
		select {
		case n.snapshots <- v:
			return
		default:
		}
		select {
		case <-n.snapshots:
			// Drop the stale snapshot nobody read.
		default:
		}
	}
}
