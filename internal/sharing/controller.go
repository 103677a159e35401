package sharing

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/locshare-core/internal/audit"
	"github.com/nerrad567/locshare-core/internal/platform"
	"github.com/nerrad567/locshare-core/internal/sysloc"
)

// DefaultOpTimeout bounds each side effect of a transition.
const DefaultOpTimeout = 10 * time.Second

// Permissions is the permission gate.
type Permissions interface {
	CurrentState(ctx context.Context) platform.PermissionState
	RequestForegroundAndBackground(ctx context.Context) platform.PermissionState
	Sufficient(state platform.PermissionState) bool
}

// AvailabilityMonitor is the system location monitor.
type AvailabilityMonitor interface {
	Probe(ctx context.Context) sysloc.Availability
	Subscribe(fn func(sysloc.Transition)) func()
	Start(ctx context.Context)
	Stop()
}

// ReportingService is the background reporting service control surface.
type ReportingService interface {
	Start(ctx context.Context, userID string) error
	Stop(ctx context.Context) error
}

// Presence sets the user's remote online flag.
type Presence interface {
	SetPresence(ctx context.Context, userID string, online bool) error
}

// IntentStore persists the sharing intent.
type IntentStore interface {
	SharingIntent(ctx context.Context) (bool, error)
	SaveSharingIntent(ctx context.Context, intent bool) error
}

// PositionStream is the sharer's own position stream.
type PositionStream interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context)
	Active() bool
}

// ProximityFeed is the nearby-users refresh loop.
type ProximityFeed interface {
	Start(ctx context.Context)
	Stop()
}

// Journal records settled transitions.
type Journal interface {
	Create(ctx context.Context, e *audit.Event) error
}

// Observer receives metric hooks. States are passed as strings.
type Observer interface {
	Transition(from, to string)
	Rejected(reason string)
	ServiceStartFailed()
}

// Telemetry records transitions in the time-series store.
type Telemetry interface {
	WriteTransition(from, to, action string)
}

// Publisher relays the retained sharing state to the message bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config wires a Controller. Journal, Observer, Telemetry and Publisher
// are optional.
type Config struct {
	UserID string

	Permissions Permissions
	Monitor     AvailabilityMonitor
	Service     ReportingService
	Presence    Presence
	Store       IntentStore
	Stream      PositionStream
	Proximity   ProximityFeed

	Journal   Journal
	Observer  Observer
	Telemetry Telemetry
	Publisher Publisher
	Topic     string
	QoS       byte

	// OpTimeout bounds each side effect of a transition.
	OpTimeout time.Duration
}

// Controller is the location-sharing state machine.
type Controller struct {
	cfg    Config
	logger Logger

	// transitionMu serialises transitions. Toggles take it with TryLock so
	// a request during enabling or disabling is dropped, not queued.
	transitionMu sync.Mutex

	mu           sync.Mutex
	state        State
	reason       BlockReason
	intent       bool
	permission   platform.PermissionState
	availability sysloc.Availability
	since        time.Time
	pendingForce BlockReason
	closed       bool
	runCtx       context.Context
	unsubscribe  func()
	subs         map[int]func(Event)
	nextSub      int

	// forced tracks forced shutdowns dispatched from monitor callbacks.
	forced sync.WaitGroup
}

// New creates a Controller in StateUnknown.
func New(cfg Config) *Controller {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	return &Controller{
		cfg:    cfg,
		logger: noopLogger{},
		state:  StateUnknown,
		since:  time.Now(),
		subs:   make(map[int]func(Event)),
	}
}

// SetLogger sets the logger.
func (c *Controller) SetLogger(l Logger) {
	if l != nil {
		c.logger = l
	}
}

// Start resolves the initial state from the persisted intent, the
// permission tier and an on-demand availability probe. A persisted intent
// of true is resumed when gating passes and corrected to false otherwise.
// ctx bounds the lifetime of the loops started while sharing is on.
func (c *Controller) Start(ctx context.Context) error {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	if c.runCtx != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.runCtx = ctx
	c.closed = false
	c.mu.Unlock()

	intent, err := c.cfg.Store.SharingIntent(ctx)
	if err != nil {
		c.logger.Warn("reading sharing intent failed, assuming off", "error", err)
		intent = false
	}
	c.mu.Lock()
	c.intent = intent
	c.mu.Unlock()

	unsubscribe := c.cfg.Monitor.Subscribe(c.onAvailability)
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	perm, avail := c.evaluate(ctx)
	resolved, reason := c.resolve(perm, avail)

	if !intent {
		c.setState(resolved, reason)
		c.logger.Info("sharing resolved", "state", resolved, "reason", reason)
		return nil
	}

	if c.cfg.Permissions.Sufficient(perm) && avail == sysloc.Enabled {
		c.setState(StateOff, ReasonNone)
		c.logger.Info("resuming location sharing")
		if err := c.enable(ctx, audit.ActionResume); err != nil {
			c.logger.Warn("resuming location sharing failed", "error", err)
		}
		return nil
	}

	c.logger.Info("persisted sharing intent cannot be honoured, turning off",
		"permission", perm, "availability", avail)
	c.teardown(ctx, teardownPlan{
		action:      audit.ActionForcedDisable,
		reason:      string(forcedReason(perm, avail, c.cfg.Permissions)),
		final:       resolved,
		finalReason: reason,
		notice:      stoppedNotice(forcedReason(perm, avail, c.cfg.Permissions)),
	})
	return nil
}

// SetEnabled is the user toggle. Turning on runs the gating checks and,
// if they pass, the enable transition; turning off tears sharing down.
// A request made while another transition runs returns
// ErrTransitionInProgress and has no effect. A refused toggle-on returns
// a *Rejection and leaves the state unchanged.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool) error {
	if !c.transitionMu.TryLock() {
		c.logger.Debug("toggle ignored, transition in progress", "enabled", enabled)
		return ErrTransitionInProgress
	}
	defer c.transitionMu.Unlock()

	state := c.Status().State
	switch {
	case state == StateUnknown:
		return ErrNotReady
	case enabled && state == StateOn, !enabled && state != StateOn:
		return nil
	case enabled:
		if err := c.checkGate(ctx); err != nil {
			return err
		}
		return c.enable(ctx, audit.ActionEnable)
	default:
		c.teardown(ctx, teardownPlan{action: audit.ActionDisable, final: StateOff})
		return nil
	}
}

// Refresh re-evaluates permission and availability, as on an app
// foreground transition. While off it moves between off and blocked;
// while on a revoked permission or disabled location forces shutdown.
func (c *Controller) Refresh(ctx context.Context) (Status, error) {
	if !c.transitionMu.TryLock() {
		return c.Status(), ErrTransitionInProgress
	}
	defer c.transitionMu.Unlock()

	state := c.Status().State
	if state == StateUnknown {
		return c.Status(), ErrNotReady
	}

	perm, avail := c.evaluate(ctx)
	if state != StateOn {
		c.setState(c.resolve(perm, avail))
		return c.Status(), nil
	}

	switch {
	case avail == sysloc.Disabled:
		c.forcedTeardown(ctx, ReasonSystemDisabled)
	case perm != platform.PermissionUnknown && !c.cfg.Permissions.Sufficient(perm):
		c.forcedTeardown(ctx, ReasonPermissionMissing)
	default:
		c.ensureRunning(ctx)
	}
	return c.Status(), nil
}

// Logout waits for any in-flight transition and tears sharing down
// regardless of the persisted intent. The controller returns to
// StateUnknown and must be started again.
func (c *Controller) Logout(ctx context.Context) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.teardown(ctx, teardownPlan{action: audit.ActionLogout, final: StateUnknown})

	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.runCtx = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.logger.Info("sharing torn down on logout")
}

// Close stops the loops and the reporting child for daemon shutdown. The
// intent and presence flag are left as they are so the next Start resumes.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	c.transitionMu.Lock()
	c.cfg.Monitor.Stop()
	c.cfg.Stream.Deactivate(ctx)
	c.cfg.Proximity.Stop()
	err := c.cfg.Service.Stop(ctx)
	c.transitionMu.Unlock()

	c.forced.Wait()
	return err
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		State:        c.state,
		Reason:       c.reason,
		Intent:       c.intent,
		Permission:   c.permission,
		Availability: c.availability,
		Since:        c.since,
	}
}

// Subscribe registers fn for controller events. fn must not block or call
// back into the controller's transition methods.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) emit(e Event) {
	c.mu.Lock()
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}
