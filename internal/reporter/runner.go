package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/locshare-core/internal/geo"
	"github.com/nerrad567/locshare-core/internal/platform"
)

// FixSource takes one position fix.
type FixSource interface {
	CurrentFix(ctx context.Context, accuracy platform.Accuracy, timeout time.Duration) (geo.Coordinate, error)
}

// Uploader stores the user's position on the backend.
type Uploader interface {
	UpdateLocation(ctx context.Context, userID string, coord geo.Coordinate) error
}

// Publisher relays fixes to the message bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Telemetry records uploaded fixes.
type Telemetry interface {
	WriteLocationFix(userID, source string, lat, lon float64, at time.Time)
}

// RunnerConfig configures a Runner. Publisher and Telemetry are optional.
type RunnerConfig struct {
	UserID     string
	Source     FixSource
	Uploader   Uploader
	Publisher  Publisher
	Telemetry  Telemetry
	Topic      string
	QoS        byte
	Interval   time.Duration
	FixTimeout time.Duration

	// UploadsPerMinute caps backend uploads; 0 leaves them paced by
	// Interval alone.
	UploadsPerMinute int
}

// Runner is the reporting loop executed inside the child process.
type Runner struct {
	cfg     RunnerConfig
	logger  Logger
	limiter *rate.Limiter

	uploads atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// locationMessage is the MQTT relay payload.
type locationMessage struct {
	UserID string `json:"user_id"`
	geo.Coordinate
}

// NewRunner creates a Runner, applying defaults.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = 10 * time.Second
	}

	r := &Runner{
		cfg:    cfg,
		logger: noopLogger{},
	}
	if cfg.UploadsPerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.UploadsPerMinute)), 1)
	}
	return r
}

// SetLogger sets the logger.
func (r *Runner) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Run reports immediately and then on every interval until ctx is done.
// It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("reporting started", "user_id", r.cfg.UserID, "interval", r.cfg.Interval)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("reporting stopped",
				"uploads", r.uploads.Load(), "skipped", r.skipped.Load(), "failed", r.failed.Load())
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	err := r.ReportOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSkipped):
		r.skipped.Add(1)
		r.logger.Debug("report skipped", "reason", err)
	case ctx.Err() != nil:
	default:
		r.failed.Add(1)
		r.logger.Warn("report failed", "error", err)
	}
}

// ReportOnce takes one low-accuracy fix and uploads it. A disabled
// provider or an exhausted upload budget returns an error wrapping
// ErrSkipped.
func (r *Runner) ReportOnce(ctx context.Context) error {
	coord, err := r.cfg.Source.CurrentFix(ctx, platform.AccuracyLow, r.cfg.FixTimeout)
	if err != nil {
		err = platform.Classify(err)
		if errors.Is(err, platform.ErrProviderDisabled) {
			return fmt.Errorf("%w: %w", ErrSkipped, err)
		}
		return fmt.Errorf("taking fix: %w", err)
	}

	r.relay(coord)

	if r.limiter != nil && !r.limiter.Allow() {
		return fmt.Errorf("%w: upload rate limited", ErrSkipped)
	}

	if err := r.cfg.Uploader.UpdateLocation(ctx, r.cfg.UserID, coord); err != nil {
		return fmt.Errorf("uploading fix: %w", err)
	}
	r.uploads.Add(1)

	if r.cfg.Telemetry != nil {
		r.cfg.Telemetry.WriteLocationFix(r.cfg.UserID, "reporter", coord.Latitude, coord.Longitude, coord.CapturedAt)
	}
	return nil
}

func (r *Runner) relay(coord geo.Coordinate) {
	if r.cfg.Publisher == nil || r.cfg.Topic == "" {
		return
	}
	payload, err := json.Marshal(locationMessage{UserID: r.cfg.UserID, Coordinate: coord})
	if err != nil {
		r.logger.Warn("encoding location relay failed", "error", err)
		return
	}
	if err := r.cfg.Publisher.Publish(r.cfg.Topic, payload, r.cfg.QoS, true); err != nil {
		r.logger.Debug("location relay failed", "error", err)
	}
}

// Uploads returns the number of successful uploads.
func (r *Runner) Uploads() int64 { return r.uploads.Load() }
