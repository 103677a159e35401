package proximity

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/locshare-core/internal/backend"
	"github.com/nerrad567/locshare-core/internal/geo"
	"github.com/nerrad567/locshare-core/internal/platform"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultLimit    = 100

	defaultQueryTimeout = 8 * time.Second
)

// DefaultRadii is the selectable radius set in meters.
var DefaultRadii = []int{20, 100, 500, 1000, 5000}

// Entity is a nearby user as rendered on the map.
type Entity struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"display_name"`
	AvatarURL      string         `json:"avatar_url,omitempty"`
	Coordinate     geo.Coordinate `json:"coordinate"`
	DistanceMeters float64        `json:"distance_m"`
}

// Snapshot is the feed's published state.
type Snapshot struct {
	Entities    []Entity        `json:"entities"`
	Radius      int             `json:"radius_m"`
	Origin      *geo.Coordinate `json:"origin,omitempty"`
	RefreshedAt time.Time       `json:"refreshed_at,omitempty"`
}

// Finder runs nearby queries against the backend.
type Finder interface {
	NearbyProfiles(ctx context.Context, q backend.NearbyQuery) ([]backend.Profile, error)
}

// RefreshResult is passed to Config.OnRefresh after each attempt.
type RefreshResult struct {
	Radius int
	Count  int
	Took   time.Duration
	Err    error
}

// Config configures a Feed.
type Config struct {
	Finder        Finder
	SelfID        string
	Radii         []int
	DefaultRadius int
	Limit         int
	Interval      time.Duration
	QueryTimeout  time.Duration

	// OnRefresh, if set, is called after every scheduled refresh.
	OnRefresh func(RefreshResult)
}

// Feed is the ProximityFeed.
type Feed struct {
	cfg    Config
	logger platform.Logger

	mu          sync.Mutex
	radius      int
	origin      *geo.Coordinate
	entities    []Entity
	refreshedAt time.Time
	subs        map[int]func(Snapshot)
	nextSub     int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}
}

// New creates a stopped feed.
func New(cfg Config) *Feed {
	if len(cfg.Radii) == 0 {
		cfg.Radii = DefaultRadii
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	radius := cfg.DefaultRadius
	if !slices.Contains(cfg.Radii, radius) {
		radius = cfg.Radii[len(cfg.Radii)/2]
	}
	return &Feed{
		cfg:    cfg,
		logger: nopLogger{},
		radius: radius,
		subs:   make(map[int]func(Snapshot)),
		kick:   make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the feed.
func (f *Feed) SetLogger(logger platform.Logger) {
	f.logger = logger
}

// Refresh queries entities within radiusMeters of origin, keeping at most
// the configured limit in the backend's (nearest-first) order. It does not
// touch the feed's published state.
func (f *Feed) Refresh(ctx context.Context, origin geo.Coordinate, radiusMeters int) ([]Entity, error) {
	if !origin.Valid() {
		return nil, ErrNoOrigin
	}

	profiles, err := f.cfg.Finder.NearbyProfiles(ctx, backend.NearbyQuery{
		Origin:      origin,
		MaxDistance: geo.AngularRadius(float64(radiusMeters)),
		ExcludeID:   f.cfg.SelfID,
		Limit:       f.cfg.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("querying nearby profiles: %w", err)
	}

	entities := make([]Entity, 0, len(profiles))
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if len(entities) == f.cfg.Limit {
			break
		}
		if p.ID == "" || p.ID == f.cfg.SelfID || seen[p.ID] {
			continue
		}
		c, ok := p.Coordinate()
		if !ok {
			continue
		}
		seen[p.ID] = true
		entities = append(entities, Entity{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			AvatarURL:      p.AvatarURL,
			Coordinate:     c,
			DistanceMeters: geo.Distance(origin, c),
		})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

// Radii returns the selectable radii.
func (f *Feed) Radii() []int {
	return slices.Clone(f.cfg.Radii)
}

// Radius returns the selected radius.
func (f *Feed) Radius() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.radius
}

// SetRadius selects a new radius and, while running, refreshes immediately
// from the last known origin.
func (f *Feed) SetRadius(meters int) error {
	if !slices.Contains(f.cfg.Radii, meters) {
		return fmt.Errorf("%w: %d", ErrInvalidRadius, meters)
	}
	f.mu.Lock()
	changed := f.radius != meters
	f.radius = meters
	f.mu.Unlock()

	if changed {
		f.trigger()
	}
	return nil
}

// UpdateOrigin records the sharer's latest coordinate. The first origin
// after Start triggers an immediate refresh; later ones wait for the tick.
func (f *Feed) UpdateOrigin(c geo.Coordinate) {
	if !c.Valid() {
		return
	}
	f.mu.Lock()
	first := f.origin == nil
	f.origin = &c
	f.mu.Unlock()

	if first {
		f.trigger()
	}
}

// Snapshot returns the currently published state.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() Snapshot {
	s := Snapshot{
		Entities:    slices.Clone(f.entities),
		Radius:      f.radius,
		RefreshedAt: f.refreshedAt,
	}
	if s.Entities == nil {
		s.Entities = []Entity{}
	}
	if f.origin != nil {
		origin := *f.origin
		s.Origin = &origin
	}
	return s
}

// Subscribe registers fn for published snapshots.
func (f *Feed) Subscribe(fn func(Snapshot)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Start begins scheduled refreshing. Calling Start on a running feed does
// nothing.
func (f *Feed) Start(ctx context.Context) {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.cancel != nil {
		return
	}

	// The first tick covers any refresh requested before Start.
	select {
	case <-f.kick:
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done

	go f.loop(ctx, done)
}

// Stop ends scheduled refreshing, waits for the loop, and clears the
// origin and the published list.
func (f *Feed) Stop() {
	f.runMu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	// Drop a kick left over from this run.
	select {
	case <-f.kick:
	default:
	}

	f.mu.Lock()
	f.origin = nil
	f.entities = nil
	f.refreshedAt = time.Time{}
	f.mu.Unlock()
	f.publish()
}

// Running reports whether scheduled refreshing is active.
func (f *Feed) Running() bool {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	return f.cancel != nil
}

func (f *Feed) trigger() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *Feed) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		case <-f.kick:
			f.tick(ctx)
		}
	}
}

// tick runs one scheduled refresh from the current origin and radius.
func (f *Feed) tick(ctx context.Context) {
	f.mu.Lock()
	origin := f.origin
	radius := f.radius
	f.mu.Unlock()

	if origin == nil {
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, f.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	entities, err := f.Refresh(queryCtx, *origin, radius)
	result := RefreshResult{Radius: radius, Count: len(entities), Took: time.Since(start), Err: err}
	if f.cfg.OnRefresh != nil {
		f.cfg.OnRefresh(result)
	}

	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("proximity refresh failed, keeping previous results", "radius_m", radius, "error", err)
		}
		return
	}

	f.mu.Lock()
	// The radius may have changed while the query ran; its own refresh
	// is already queued, so this result is still the best we have.
	f.entities = entities
	f.refreshedAt = time.Now()
	f.mu.Unlock()

	f.logger.Debug("proximity refreshed", "radius_m", radius, "count", len(entities))
	f.publish()
}

func (f *Feed) publish() {
	f.mu.Lock()
	snap := f.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
