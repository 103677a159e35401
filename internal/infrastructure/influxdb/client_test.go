package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/locshare-core/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writeAPI: w, connected: true}, w
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestWriteLocationFix(t *testing.T) {
	c, w := newTestClient()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.WriteLocationFix("user-1", "reporter", 52.52, 13.405, at)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementLocationFix {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementLocationFix)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["user_id"] != "user-1" || tags["source"] != "reporter" {
		t.Errorf("tags = %v", tags)
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["lat"] != 52.52 || fields["lon"] != 13.405 {
		t.Errorf("fields = %v", fields)
	}
}

func TestWriteProximityRefresh(t *testing.T) {
	c, w := newTestClient()
	c.WriteProximityRefresh(500, 3, 120*time.Millisecond, true)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	var radius string
	for _, tag := range w.points[0].TagList() {
		if tag.Key == "radius_m" {
			radius = tag.Value
		}
	}
	if radius != "500" {
		t.Errorf("radius_m tag = %q, want 500", radius)
	}
}

func TestWrites_NoopWhenDisconnected(t *testing.T) {
	c, w := newTestClient()
	c.connected = false

	c.WriteTransition("off", "on", "enable")
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("points = %d, want 0", len(w.points))
	}
	if w.flushes != 0 {
		t.Errorf("flushes = %d, want 0", w.flushes)
	}
}

func TestWrites_NilClient(t *testing.T) {
	var c *Client
	// Must not panic.
	c.WriteTransition("off", "on", "enable")
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()

	var mu sync.Mutex
	var got []error
	c.SetOnError(func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	})

	ch := make(chan error, 2)
	ch <- errors.New("write 1")
	ch <- errors.New("write 2")
	close(ch)
	c.handleWriteErrors(ch)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("callback errors = %d, want 2", len(got))
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}
