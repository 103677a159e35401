package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/locshare-core/internal/geo"
	"github.com/nerrad567/locshare-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/locshare-core/internal/platform"
)

// responseGrace is added to a fix timeout so the shim's own timeout
// answer arrives before ours fires.
const responseGrace = time.Second

// Transport is the part of the MQTT client the bridge needs.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Bridge implements platform.PermissionOS, platform.Locator and
// platform.SettingsOpener over MQTT request/response with the device shim.
type Bridge struct {
	transport Transport
	deviceID  string
	qos       byte
	topics    mqtt.Topics
	logger    platform.Logger

	mu      sync.Mutex
	pending map[string]chan Response

	// watchMu is held for reading while a fix callback runs.
	watchMu sync.RWMutex
	watches map[string]func(geo.Coordinate)
}

// New creates a bridge for a device. Call Start before use.
func New(transport Transport, deviceID string, qos byte) *Bridge {
	return &Bridge{
		transport: transport,
		deviceID:  deviceID,
		qos:       qos,
		logger:    nopLogger{},
		pending:   make(map[string]chan Response),
		watches:   make(map[string]func(geo.Coordinate)),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger platform.Logger) {
	b.logger = logger
}

// Start subscribes to the device's response and fix topics.
func (b *Bridge) Start() error {
	if err := b.transport.Subscribe(b.topics.AllDeviceResponses(b.deviceID), b.qos, b.handleResponse); err != nil {
		return fmt.Errorf("subscribing to device responses: %w", err)
	}
	if err := b.transport.Subscribe(b.topics.AllDeviceFixes(b.deviceID), b.qos, b.handleFix); err != nil {
		return fmt.Errorf("subscribing to device fixes: %w", err)
	}
	return nil
}

// Stop unsubscribes and fails every pending request.
func (b *Bridge) Stop() {
	_ = b.transport.Unsubscribe(b.topics.AllDeviceResponses(b.deviceID)) //nolint:errcheck // Shutdown path
	_ = b.transport.Unsubscribe(b.topics.AllDeviceFixes(b.deviceID))     //nolint:errcheck // Shutdown path

	b.mu.Lock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()

	b.watchMu.Lock()
	b.watches = make(map[string]func(geo.Coordinate))
	b.watchMu.Unlock()
}

// Check implements platform.PermissionOS.
func (b *Bridge) Check(ctx context.Context, p platform.Permission) (platform.Grant, error) {
	resp, err := b.call(ctx, Request{Op: OpCheckPermission, Permission: p})
	if err != nil {
		return "", err
	}
	return resp.Grant, nil
}

// Request implements platform.PermissionOS.
func (b *Bridge) Request(ctx context.Context, p platform.Permission) (platform.Grant, error) {
	resp, err := b.call(ctx, Request{Op: OpRequestPermission, Permission: p})
	if err != nil {
		return "", err
	}
	return resp.Grant, nil
}

// CurrentFix implements platform.Locator.
func (b *Bridge) CurrentFix(ctx context.Context, accuracy platform.Accuracy, timeout time.Duration) (geo.Coordinate, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+responseGrace)
	defer cancel()

	resp, err := b.call(ctx, Request{Op: OpCurrentFix, Accuracy: accuracy, TimeoutMS: timeout.Milliseconds()})
	if err != nil {
		return geo.Coordinate{}, err
	}
	if resp.Fix == nil || !resp.Fix.Valid() {
		return geo.Coordinate{}, fmt.Errorf("%w: malformed fix", platform.ErrUnavailable)
	}
	return *resp.Fix, nil
}

// Watch implements platform.Locator. The callback is registered before the
// shim is asked to start so no early fix is lost.
func (b *Bridge) Watch(ctx context.Context, opts platform.WatchOptions, fn func(geo.Coordinate)) (platform.Watch, error) {
	watchID := uuid.NewString()

	b.watchMu.Lock()
	b.watches[watchID] = fn
	b.watchMu.Unlock()

	_, err := b.call(ctx, Request{
		Op:         OpWatchStart,
		WatchID:    watchID,
		Accuracy:   opts.Accuracy,
		IntervalMS: opts.Interval.Milliseconds(),
		DistanceM:  opts.DistanceMeters,
	})
	if err != nil {
		b.dropWatch(watchID)
		return nil, err
	}
	return &watch{bridge: b, id: watchID}, nil
}

// OpenSettings implements platform.SettingsOpener.
func (b *Bridge) OpenSettings(ctx context.Context, target platform.SettingsTarget) error {
	_, err := b.call(ctx, Request{Op: OpOpenSettings, Target: string(target)})
	return err
}

func (b *Bridge) dropWatch(id string) {
	b.watchMu.Lock()
	delete(b.watches, id)
	b.watchMu.Unlock()
}

// call publishes req and waits for its response or ctx.
func (b *Bridge) call(ctx context.Context, req Request) (Response, error) {
	req.RequestID = uuid.NewString()
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: encoding request: %w", platform.ErrUnavailable, err)
	}

	ch := make(chan Response, 1)
	b.mu.Lock()
	b.pending[req.RequestID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, req.RequestID)
		b.mu.Unlock()
	}()

	if err := b.transport.Publish(b.topics.DeviceRequest(b.deviceID), payload, b.qos, false); err != nil {
		return Response{}, fmt.Errorf("%w: %s: %w", platform.ErrUnavailable, req.Op, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("%w: bridge stopped", platform.ErrUnavailable)
		}
		if !resp.OK {
			return resp, fmt.Errorf("%s: %w", req.Op, platform.ParseErrorCode(resp.Error))
		}
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("%s: %w", req.Op, platform.ErrTimeout)
		}
		return Response{}, fmt.Errorf("%s: %w", req.Op, ctx.Err())
	}
}

func (b *Bridge) handleResponse(topic string, payload []byte) error {
	requestID := mqtt.LastSegment(topic)

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding response %s: %w", requestID, err)
	}

	b.mu.Lock()
	ch, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("response for unknown request", "request_id", requestID)
		return nil
	}
	ch <- resp
	return nil
}

func (b *Bridge) handleFix(topic string, payload []byte) error {
	watchID := mqtt.LastSegment(topic)

	var fix geo.Coordinate
	if err := json.Unmarshal(payload, &fix); err != nil {
		return fmt.Errorf("decoding fix for watch %s: %w", watchID, err)
	}
	if !fix.Valid() {
		return fmt.Errorf("invalid fix for watch %s", watchID)
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = time.Now().UTC()
	}

	b.watchMu.RLock()
	defer b.watchMu.RUnlock()
	if fn, ok := b.watches[watchID]; ok {
		fn(fix)
	}
	return nil
}

type watch struct {
	bridge *Bridge
	id     string
	once   sync.Once
}

// Stop removes the callback first so that no fix is delivered after Stop
// returns, then asks the shim to stop sending.
func (w *watch) Stop(ctx context.Context) error {
	var err error
	w.once.Do(func() {
		w.bridge.dropWatch(w.id)
		_, err = w.bridge.call(ctx, Request{Op: OpWatchStop, WatchID: w.id})
	})
	return err
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
