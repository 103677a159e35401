package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/locshare-core/internal/audit"
	"github.com/nerrad567/locshare-core/internal/backend"
	"github.com/nerrad567/locshare-core/internal/platform"
	"github.com/nerrad567/locshare-core/internal/sysloc"
)

// evaluate re-queries the permission tier and probes availability.
func (c *Controller) evaluate(ctx context.Context) (platform.PermissionState, sysloc.Availability) {
	perm := c.cfg.Permissions.CurrentState(ctx)
	avail := c.cfg.Monitor.Probe(ctx)

	c.mu.Lock()
	c.permission = perm
	c.availability = avail
	c.mu.Unlock()
	return perm, avail
}

// resolve maps gating inputs to the resting state while not sharing.
// Only a definite denial blocks on permission; an insufficient tier is
// off, since a toggle can still prompt for it.
func (c *Controller) resolve(perm platform.PermissionState, avail sysloc.Availability) (State, BlockReason) {
	switch {
	case avail == sysloc.Disabled:
		return StateBlocked, ReasonSystemDisabled
	case perm == platform.PermissionDenied:
		return StateBlocked, ReasonPermissionMissing
	default:
		return StateOff, ReasonNone
	}
}

func forcedReason(perm platform.PermissionState, avail sysloc.Availability, p Permissions) BlockReason {
	if avail == sysloc.Enabled && !p.Sufficient(perm) {
		return ReasonPermissionMissing
	}
	return ReasonSystemDisabled
}

// checkGate prompts for the permission tier if needed and probes
// availability. It returns a *Rejection when sharing cannot start.
func (c *Controller) checkGate(ctx context.Context) error {
	perm := c.cfg.Permissions.CurrentState(ctx)
	if !c.cfg.Permissions.Sufficient(perm) {
		perm = c.cfg.Permissions.RequestForegroundAndBackground(ctx)
	}
	c.mu.Lock()
	c.permission = perm
	c.mu.Unlock()

	if !c.cfg.Permissions.Sufficient(perm) {
		msg := msgNeedPermission
		if perm == platform.PermissionForegroundOnly {
			msg = msgNeedBackground
		}
		return c.reject(ctx, &Rejection{Err: ErrPermissionDenied, Settings: platform.SettingsApp, Message: msg}, string(ReasonPermissionMissing))
	}

	avail := c.cfg.Monitor.Probe(ctx)
	c.mu.Lock()
	c.availability = avail
	c.mu.Unlock()

	switch avail {
	case sysloc.Enabled:
		return nil
	case sysloc.Disabled:
		return c.reject(ctx, &Rejection{Err: ErrSystemLocationDisabled, Settings: platform.SettingsLocation, Message: msgLocationOff}, string(ReasonSystemDisabled))
	default:
		return c.reject(ctx, &Rejection{Err: ErrSystemLocationDisabled, Settings: platform.SettingsLocation, Message: msgLocationUnknown}, "availability_unknown")
	}
}

func (c *Controller) reject(ctx context.Context, r *Rejection, reason string) error {
	state := c.Status().State
	c.logger.Info("sharing toggle rejected", "reason", reason)
	if c.cfg.Observer != nil {
		c.cfg.Observer.Rejected(reason)
	}
	c.journal(ctx, audit.ActionReject, state, state, reason, nil)
	c.notify(Notice{Code: NoticeToggleRejected, Message: r.Message, Settings: r.Settings})
	return r
}

// enable runs off -> enabling -> on. A service start failure reverts to
// off without setting the presence flag. A failed resume also clears it,
// since the previous run left it set.
func (c *Controller) enable(ctx context.Context, action string) error {
	from := c.Status().State
	c.setState(StateEnabling, ReasonNone)

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.cfg.Service.Start(opCtx, c.cfg.UserID); err != nil {
		c.logger.Error("background reporting service failed to start", "error", err)
		if c.cfg.Observer != nil {
			c.cfg.Observer.ServiceStartFailed()
		}
		if action == audit.ActionResume {
			if perr := c.cfg.Presence.SetPresence(opCtx, c.cfg.UserID, false); perr != nil {
				c.logger.Warn("clearing presence failed", "error", classifyPresence(perr))
			}
		}
		c.saveIntent(opCtx, false)
		c.setState(StateOff, ReasonNone)
		c.journal(opCtx, audit.ActionStartFailed, from, StateOff, "service_start_failed", map[string]any{"error": err.Error()})
		c.notify(Notice{Code: NoticeStartFailed, Message: msgStartFailed})
		return fmt.Errorf("%w: %w", ErrServiceStartFailure, err)
	}

	if err := c.cfg.Presence.SetPresence(opCtx, c.cfg.UserID, true); err != nil {
		c.logger.Warn("setting presence online failed", "error", classifyPresence(err))
	}
	c.saveIntent(opCtx, true)

	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()

	c.cfg.Proximity.Start(runCtx)
	if err := c.cfg.Stream.Activate(opCtx); err != nil {
		c.logger.Warn("position stream activation failed", "error", err)
	}
	c.cfg.Monitor.Start(runCtx)

	c.setState(StateOn, ReasonNone)
	c.journal(opCtx, action, from, StateOn, "", nil)
	c.logger.Info("location sharing on", "user_id", c.cfg.UserID)

	// A disabled edge that arrived while enabling.
	c.mu.Lock()
	pending := c.pendingForce
	c.pendingForce = ReasonNone
	c.mu.Unlock()
	if pending != ReasonNone {
		c.forcedTeardown(ctx, pending)
	}
	return nil
}

// ensureRunning restarts any loop that is not running while on.
func (c *Controller) ensureRunning(ctx context.Context) {
	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()

	if !c.cfg.Stream.Active() {
		opCtx, cancel := c.opContext(ctx)
		defer cancel()
		if err := c.cfg.Stream.Activate(opCtx); err != nil {
			c.logger.Warn("position stream activation failed", "error", err)
		}
	}
	c.cfg.Proximity.Start(runCtx)
	c.cfg.Monitor.Start(runCtx)
}

type teardownPlan struct {
	action      string
	reason      string
	final       State
	finalReason BlockReason
	notice      *Notice
}

// teardown stops every sharing side effect: the monitor loop, the position
// stream, the proximity feed, the reporting service, then the presence flag
// and the persisted intent. Each step runs even if an earlier one failed.
func (c *Controller) teardown(ctx context.Context, plan teardownPlan) {
	from := c.Status().State
	if from == StateOn || from == StateEnabling {
		c.setState(StateDisabling, ReasonNone)
	}

	c.mu.Lock()
	c.pendingForce = ReasonNone
	c.mu.Unlock()

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	c.cfg.Monitor.Stop()
	c.cfg.Stream.Deactivate(opCtx)
	c.cfg.Proximity.Stop()

	if err := c.cfg.Service.Stop(opCtx); err != nil {
		c.logger.Warn("stopping reporting service failed", "error", err)
	}
	if err := c.cfg.Presence.SetPresence(opCtx, c.cfg.UserID, false); err != nil {
		c.logger.Warn("clearing presence failed", "error", classifyPresence(err))
	}
	c.saveIntent(opCtx, false)

	c.setState(plan.final, plan.finalReason)
	c.journal(opCtx, plan.action, from, plan.final, plan.reason, nil)
	c.logger.Info("location sharing off", "action", plan.action, "reason", plan.reason)
	if plan.notice != nil {
		c.notify(*plan.notice)
	}
}

func (c *Controller) forcedTeardown(ctx context.Context, reason BlockReason) {
	c.teardown(ctx, teardownPlan{
		action: audit.ActionForcedDisable,
		reason: string(reason),
		final:  StateOff,
		notice: stoppedNotice(reason),
	})
}

func stoppedNotice(reason BlockReason) *Notice {
	if reason == ReasonPermissionMissing {
		return &Notice{Code: NoticeSharingStopped, Message: msgStoppedPermission, Settings: platform.SettingsApp}
	}
	return &Notice{Code: NoticeSharingStopped, Message: msgStoppedLocation, Settings: platform.SettingsLocation}
}

// onAvailability handles monitor transitions. It runs on the probing
// goroutine, which may be one holding transitionMu, so it never blocks
// on it: a forced shutdown is dispatched to its own goroutine.
func (c *Controller) onAvailability(tr sysloc.Transition) {
	c.mu.Lock()
	c.availability = tr.To
	state, reason := c.state, c.reason

	var next State
	var nextReason BlockReason
	switch {
	case c.closed:
	case tr.To == sysloc.Disabled && state == StateOn:
		c.forced.Add(1)
		go c.forceShutdown(ReasonSystemDisabled)
	case tr.To == sysloc.Disabled && state == StateEnabling:
		c.pendingForce = ReasonSystemDisabled
	case tr.To == sysloc.Disabled && (state == StateOff || state == StateBlocked):
		next, nextReason = StateBlocked, ReasonSystemDisabled
	case tr.To == sysloc.Enabled && state == StateBlocked && reason == ReasonSystemDisabled:
		next, nextReason = c.resolve(c.permission, tr.To)
	}
	c.mu.Unlock()

	if next != "" {
		c.setState(next, nextReason)
	}
}

func (c *Controller) forceShutdown(reason BlockReason) {
	defer c.forced.Done()

	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	closed, state, ctx := c.closed, c.state, c.runCtx
	c.mu.Unlock()
	if closed || state != StateOn || ctx == nil {
		return
	}

	c.logger.Warn("system location disabled while sharing, forcing shutdown")
	c.forcedTeardown(context.WithoutCancel(ctx), reason)
}

// setState records a state change and announces it. Unchanged states are
// not announced.
func (c *Controller) setState(state State, reason BlockReason) {
	c.mu.Lock()
	from, fromReason := c.state, c.reason
	if from == state && fromReason == reason {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.reason = reason
	c.since = time.Now()
	status := c.statusLocked()
	c.mu.Unlock()

	if c.cfg.Observer != nil {
		c.cfg.Observer.Transition(string(from), string(state))
	}
	c.relay(status)
	c.emit(Event{Kind: EventStateChanged, Status: &status})
}

func (c *Controller) notify(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	c.emit(Event{Kind: EventNotice, Notice: &n})
}

func (c *Controller) saveIntent(ctx context.Context, intent bool) {
	c.mu.Lock()
	c.intent = intent
	c.mu.Unlock()

	if err := c.cfg.Store.SaveSharingIntent(ctx, intent); err != nil {
		c.logger.Error("persisting sharing intent failed", "intent", intent, "error", err)
	}
}

// journal records a settled transition. Failures are logged only.
func (c *Controller) journal(ctx context.Context, action string, from, to State, reason string, details map[string]any) {
	if c.cfg.Telemetry != nil {
		c.cfg.Telemetry.WriteTransition(string(from), string(to), action)
	}
	if c.cfg.Journal == nil {
		return
	}
	e := &audit.Event{
		Action:    action,
		FromState: string(from),
		ToState:   string(to),
		Reason:    reason,
		Details:   details,
	}
	if err := c.cfg.Journal.Create(ctx, e); err != nil {
		c.logger.Warn("recording sharing event failed", "action", action, "error", err)
	}
}

func (c *Controller) relay(status Status) {
	if c.cfg.Publisher == nil || c.cfg.Topic == "" {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		c.logger.Warn("encoding sharing state failed", "error", err)
		return
	}
	if err := c.cfg.Publisher.Publish(c.cfg.Topic, payload, c.cfg.QoS, true); err != nil {
		c.logger.Debug("relaying sharing state failed", "error", err)
	}
}

// opContext detaches a side effect from the caller's cancellation and
// bounds it with OpTimeout.
func (c *Controller) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OpTimeout)
}

func classifyPresence(err error) error {
	if errors.Is(err, backend.ErrTransient) {
		return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
	}
	return err
}
