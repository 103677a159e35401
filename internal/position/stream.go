// Package position delivers the sharer's own coordinates while sharing is on.
//
// Each activation asks for one coarse fix for a quick first paint and
// opens a continuous high-accuracy watch. The first watch fix of an
// activation also produces a one-shot center event. Every delivery is
// checked against the activation token, so a fix that arrives after
// Deactivate (or from an earlier activation) is dropped.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/locshare-core/internal/geo"
	"github.com/nerrad567/locshare-core/internal/platform"
)

// EventKind distinguishes stream events.
type EventKind string

const (
	// EventFix carries a new coordinate that replaces the previous one.
	EventFix EventKind = "fix"

	// EventCenter asks the map to center on the coordinate.
	EventCenter EventKind = "center"
)

// Event is delivered to subscribers.
type Event struct {
	Kind       EventKind
	Coordinate geo.Coordinate
	Activation uint64
}

// Config configures a Stream.
type Config struct {
	Locator         platform.Locator
	FirstFixTimeout time.Duration
	Interval        time.Duration
	DistanceMeters  float64
}

// Stream is the CurrentPositionStream.
type Stream struct {
	cfg    Config
	logger platform.Logger

	// emitMu is held while a delivery is checked and emitted, and by
	// Deactivate, so nothing is emitted once Deactivate returns.
	emitMu sync.Mutex

	mu       sync.Mutex
	token    uint64
	active   bool
	centered bool
	watch    platform.Watch
	latest   geo.Coordinate
	hasFix   bool
	subs     map[int]func(Event)
	nextSub  int
	firstFix sync.WaitGroup
}

// New creates an inactive stream.
func New(cfg Config) *Stream {
	if cfg.FirstFixTimeout <= 0 {
		cfg.FirstFixTimeout = 10 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.DistanceMeters <= 0 {
		cfg.DistanceMeters = 1
	}
	return &Stream{cfg: cfg, logger: nopLogger{}, subs: make(map[int]func(Event))}
}

// SetLogger sets the logger for the stream.
func (s *Stream) SetLogger(logger platform.Logger) {
	s.logger = logger
}

// Subscribe registers fn for stream events. fn runs on the delivering
// goroutine and must not call Deactivate.
func (s *Stream) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Activate starts a new activation. It returns once the continuous watch
// is established; the coarse first fix is requested in the background.
// Activating an active stream does nothing.
func (s *Stream) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.token++
	token := s.token
	s.active = true
	s.centered = false
	s.mu.Unlock()

	s.firstFix.Add(1)
	go s.requestFirstFix(token)

	w, err := s.cfg.Locator.Watch(ctx, platform.WatchOptions{
		Accuracy:       platform.AccuracyHigh,
		Interval:       s.cfg.Interval,
		DistanceMeters: s.cfg.DistanceMeters,
	}, func(c geo.Coordinate) {
		s.deliver(token, c, true)
	})
	if err != nil {
		s.Deactivate(ctx)
		return fmt.Errorf("starting position watch: %w", err)
	}

	s.mu.Lock()
	current := s.active && s.token == token
	if current {
		s.watch = w
	}
	s.mu.Unlock()

	// Deactivated while the watch was being set up.
	if !current {
		if err := w.Stop(ctx); err != nil {
			s.logger.Warn("stopping orphaned position watch", "error", err)
		}
	}
	return nil
}

func (s *Stream) requestFirstFix(token uint64) {
	defer s.firstFix.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FirstFixTimeout)
	defer cancel()

	c, err := s.cfg.Locator.CurrentFix(ctx, platform.AccuracyLow, s.cfg.FirstFixTimeout)
	if err != nil {
		s.logger.Debug("coarse first fix failed", "error", err)
		return
	}
	s.deliver(token, c, false)
}

func (s *Stream) deliver(token uint64, c geo.Coordinate, continuous bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if !s.active || s.token != token {
		s.mu.Unlock()
		s.logger.Debug("dropping stale fix", "activation", token)
		return
	}
	s.latest = c
	s.hasFix = true
	center := continuous && !s.centered
	if center {
		s.centered = true
	}
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(Event{Kind: EventFix, Coordinate: c, Activation: token})
	}
	if center {
		for _, fn := range subs {
			fn(Event{Kind: EventCenter, Coordinate: c, Activation: token})
		}
	}
}

// Deactivate ends the current activation and stops the watch. After it
// returns no event of that activation is delivered.
func (s *Stream) Deactivate(ctx context.Context) {
	s.emitMu.Lock()
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		s.emitMu.Unlock()
		return
	}
	s.active = false
	s.token++
	w := s.watch
	s.watch = nil
	s.mu.Unlock()
	s.emitMu.Unlock()

	if w != nil {
		if err := w.Stop(ctx); err != nil {
			s.logger.Warn("stopping position watch", "error", err)
		}
	}
}

// Wait blocks until in-flight first-fix requests have finished.
func (s *Stream) Wait() {
	s.firstFix.Wait()
}

// Active reports whether an activation is in progress.
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Latest returns the most recent coordinate, if any fix was delivered.
func (s *Stream) Latest() (geo.Coordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasFix
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
