package sysloc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/locshare-core/internal/geo"
	"github.com/nerrad567/locshare-core/internal/platform"
)

const (
	// DefaultInterval is the probe cadence while sharing is active.
	DefaultInterval = 3 * time.Second

	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 4 * time.Second
)

// Availability is the classified state of the device location service.
type Availability int

const (
	Unknown Availability = iota
	Disabled
	Enabled
)

func (a Availability) String() string {
	switch a {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("availability(%d)", int(a))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Availability) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Transition is emitted when the classified availability changes.
type Transition struct {
	From Availability
	To   Availability
	At   time.Time
}

// Outcome names a probe result for metrics.
type Outcome string

const (
	OutcomeEnabled   Outcome = "enabled"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeAmbiguous Outcome = "ambiguous"
)

// FixSource is the locator call a probe needs.
type FixSource interface {
	CurrentFix(ctx context.Context, accuracy platform.Accuracy, timeout time.Duration) (geo.Coordinate, error)
}

// Config configures a Monitor.
type Config struct {
	Source   FixSource
	Interval time.Duration
	Timeout  time.Duration

	// OnProbe, if set, is called after every probe.
	OnProbe func(Outcome)
}

// Monitor probes location-service availability on demand and, between
// Start and Stop, on a fixed interval.
type Monitor struct {
	source   FixSource
	interval time.Duration
	timeout  time.Duration
	onProbe  func(Outcome)
	logger   platform.Logger

	// probeMu serialises probes so transitions are emitted in order.
	probeMu sync.Mutex

	mu     sync.Mutex
	state  Availability
	subs   map[int]func(Transition)
	nextID int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor in the Unknown state.
func New(cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		source:   cfg.Source,
		interval: interval,
		timeout:  timeout,
		onProbe:  cfg.OnProbe,
		logger:   nopLogger{},
		subs:     make(map[int]func(Transition)),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger platform.Logger) {
	m.logger = logger
}

// State returns the last classified availability.
func (m *Monitor) State() Availability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for transitions and returns an unsubscribe func.
// fn runs on the probing goroutine and must not call Stop.
func (m *Monitor) Subscribe(fn func(Transition)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Probe runs one probe now and returns the resulting availability.
func (m *Monitor) Probe(ctx context.Context) Availability {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.source.CurrentFix(probeCtx, platform.AccuracyLow, m.timeout)
	next, outcome := classify(err)
	if m.onProbe != nil {
		m.onProbe(outcome)
	}
	if outcome == OutcomeAmbiguous {
		m.logger.Debug("location probe inconclusive", "error", err)
		return m.State()
	}

	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return next
	}
	m.state = next
	subs := make([]func(Transition), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("system location availability changed", "from", prev, "to", next)
	tr := Transition{From: prev, To: next, At: time.Now()}
	for _, fn := range subs {
		fn(tr)
	}
	return next
}

func classify(err error) (Availability, Outcome) {
	switch {
	case err == nil:
		return Enabled, OutcomeEnabled
	case errors.Is(err, platform.ErrProviderDisabled):
		return Disabled, OutcomeDisabled
	default:
		return Unknown, OutcomeAmbiguous
	}
}

// Start begins periodic probing, first probe immediately. Calling Start
// on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.loop(ctx, done)
}

// Stop ends periodic probing and waits for the loop to exit. The monitor
// can be started again.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the probe loop is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
