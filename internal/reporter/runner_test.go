package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/locshare-core/internal/geo"
	"github.com/nerrad567/locshare-core/internal/platform"
)

type fakeSource struct {
	mu       sync.Mutex
	coord    geo.Coordinate
	err      error
	accuracy []platform.Accuracy
}

func (f *fakeSource) CurrentFix(_ context.Context, acc platform.Accuracy, _ time.Duration) (geo.Coordinate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accuracy = append(f.accuracy, acc)
	return f.coord, f.err
}

type fakeUploader struct {
	mu     sync.Mutex
	err    error
	coords []geo.Coordinate
	users  []string
}

func (f *fakeUploader) UpdateLocation(_ context.Context, userID string, c geo.Coordinate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.users = append(f.users, userID)
	f.coords = append(f.coords, c)
	return nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.coords)
}

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	retained []bool
}

func (f *fakePublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	f.retained = append(f.retained, retained)
	return nil
}

type fakeTelemetry struct {
	sources []string
}

func (f *fakeTelemetry) WriteLocationFix(_, source string, _, _ float64, _ time.Time) {
	f.sources = append(f.sources, source)
}

var testFix = geo.Coordinate{Latitude: 51.5, Longitude: -0.12, CapturedAt: time.Unix(1700000000, 0).UTC()}

func TestRunner_ReportOnce(t *testing.T) {
	src := &fakeSource{coord: testFix}
	up := &fakeUploader{}
	pub := &fakePublisher{}
	tel := &fakeTelemetry{}

	r := NewRunner(RunnerConfig{
		UserID:    "user-1",
		Source:    src,
		Uploader:  up,
		Publisher: pub,
		Telemetry: tel,
		Topic:     "locshare/presence/user-1/location",
		Interval:  time.Second,
	})

	if err := r.ReportOnce(context.Background()); err != nil {
		t.Fatalf("ReportOnce() error: %v", err)
	}

	if len(src.accuracy) != 1 || src.accuracy[0] != platform.AccuracyLow {
		t.Errorf("fix accuracy = %v, want [low]", src.accuracy)
	}
	if len(up.coords) != 1 || up.coords[0] != testFix || up.users[0] != "user-1" {
		t.Errorf("uploads = %v for %v, want one fix for user-1", up.coords, up.users)
	}
	if r.Uploads() != 1 {
		t.Errorf("Uploads() = %d, want 1", r.Uploads())
	}
	if len(tel.sources) != 1 || tel.sources[0] != "reporter" {
		t.Errorf("telemetry sources = %v, want [reporter]", tel.sources)
	}

	if len(pub.topics) != 1 || pub.topics[0] != "locshare/presence/user-1/location" || !pub.retained[0] {
		t.Fatalf("relay = %v retained %v", pub.topics, pub.retained)
	}
	var msg map[string]any
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("relay payload: %v", err)
	}
	if msg["user_id"] != "user-1" || msg["lat"] != 51.5 || msg["lon"] != -0.12 {
		t.Errorf("relay payload = %v", msg)
	}
}

func TestRunner_ProviderDisabledIsSkipped(t *testing.T) {
	up := &fakeUploader{}
	r := NewRunner(RunnerConfig{
		UserID:   "user-1",
		Source:   &fakeSource{err: platform.ErrProviderDisabled},
		Uploader: up,
	})

	err := r.ReportOnce(context.Background())
	if !errors.Is(err, ErrSkipped) {
		t.Errorf("ReportOnce() error = %v, want ErrSkipped", err)
	}
	if up.count() != 0 {
		t.Errorf("uploads = %d, want 0", up.count())
	}
}

func TestRunner_FixErrorsAreClassified(t *testing.T) {
	r := NewRunner(RunnerConfig{
		UserID:   "user-1",
		Source:   &fakeSource{err: context.DeadlineExceeded},
		Uploader: &fakeUploader{},
	})

	err := r.ReportOnce(context.Background())
	if !errors.Is(err, platform.ErrTimeout) {
		t.Errorf("ReportOnce() error = %v, want platform.ErrTimeout", err)
	}
	if errors.Is(err, ErrSkipped) {
		t.Error("timeout reported as skipped")
	}
}

func TestRunner_UploadFailure(t *testing.T) {
	uploadErr := errors.New("backend down")
	r := NewRunner(RunnerConfig{
		UserID:   "user-1",
		Source:   &fakeSource{coord: testFix},
		Uploader: &fakeUploader{err: uploadErr},
	})

	if err := r.ReportOnce(context.Background()); !errors.Is(err, uploadErr) {
		t.Errorf("ReportOnce() error = %v, want %v", err, uploadErr)
	}
	if r.Uploads() != 0 {
		t.Errorf("Uploads() = %d, want 0", r.Uploads())
	}
}

func TestRunner_UploadsAreRateLimited(t *testing.T) {
	up := &fakeUploader{}
	pub := &fakePublisher{}
	r := NewRunner(RunnerConfig{
		UserID:           "user-1",
		Source:           &fakeSource{coord: testFix},
		Uploader:         up,
		Publisher:        pub,
		Topic:            "t",
		UploadsPerMinute: 1,
	})

	if err := r.ReportOnce(context.Background()); err != nil {
		t.Fatalf("first ReportOnce() error: %v", err)
	}
	if err := r.ReportOnce(context.Background()); !errors.Is(err, ErrSkipped) {
		t.Errorf("second ReportOnce() error = %v, want ErrSkipped", err)
	}
	if up.count() != 1 {
		t.Errorf("uploads = %d, want 1", up.count())
	}
	if len(pub.topics) != 2 {
		t.Errorf("relays = %d, want 2", len(pub.topics))
	}
}

func TestRunner_NoUploadCapUploadsEveryTick(t *testing.T) {
	up := &fakeUploader{}
	r := NewRunner(RunnerConfig{
		UserID:   "user-1",
		Source:   &fakeSource{coord: testFix},
		Uploader: up,
		Interval: time.Hour,
	})

	for i := 0; i < 3; i++ {
		if err := r.ReportOnce(context.Background()); err != nil {
			t.Fatalf("ReportOnce() #%d error: %v", i+1, err)
		}
	}
	if up.count() != 3 {
		t.Errorf("uploads = %d, want 3", up.count())
	}
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	up := &fakeUploader{}
	r := NewRunner(RunnerConfig{
		UserID:   "user-1",
		Source:   &fakeSource{coord: testFix},
		Uploader: up,
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for up.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("uploads = %d, want at least 2", up.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
