package process

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{
		Name:   "reporter",
		Binary: "/usr/bin/locshared",
		Args:   []string{"report"},
	})

	if m.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 5*time.Second)
	}
	if m.config.MaxRestartDelay != 5*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 5*time.Minute)
	}
	if m.config.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want %v", m.config.StableThreshold, 2*time.Minute)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
}

func TestNewManager_MaxDelayNotBelowBase(t *testing.T) {
	m := NewManager(Config{
		Name:            "reporter",
		Binary:          "/bin/true",
		RestartDelay:    time.Minute,
		MaxRestartDelay: time.Second,
	})
	if m.config.MaxRestartDelay != time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, time.Minute)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("reporter", "/usr/bin/locshared", []string{"report"})

	if cfg.Name != "reporter" {
		t.Errorf("Name = %q, want %q", cfg.Name, "reporter")
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "report" {
		t.Errorf("Args = %v, want [report]", cfg.Args)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}
	if m.Uptime() != 0 {
		t.Errorf("Uptime() = %v, want 0", m.Uptime())
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", m.LastError())
	}

	stats := m.Stats()
	if stats.Name != "test" || stats.Status != StatusStopped || stats.LastError != "" {
		t.Errorf("Stats() = %+v, want stopped with no error", stats)
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	var exits []error
	var mu sync.Mutex
	m := NewManager(Config{
		Name:            "sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnExit: func(err error) {
			mu.Lock()
			exits = append(exits, err)
			mu.Unlock()
		},
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if m.PID() == 0 {
		t.Error("PID() = 0 after Start()")
	}
	if m.Status() != StatusRunning {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusRunning)
	}

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(exits) != 1 || exits[0] != nil {
		t.Errorf("OnExit calls = %v, want [<nil>]", exits)
	}
}

func TestManager_RestartAfterStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	for i := 0; i < 2; i++ {
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start() #%d error: %v", i+1, err)
		}
		if err := m.Stop(); err != nil {
			t.Fatalf("Stop() #%d error: %v", i+1, err)
		}
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad", Binary: "/nonexistent/binary"})

	err := m.Start(context.Background())
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Start() error = %v, want ErrStartFailed", err)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after failed start error = %v", err)
	}
}

func TestManager_RelaunchesFailedProcess(t *testing.T) {
	var restarts atomic.Int32
	m := NewManager(Config{
		Name:               "false",
		Binary:             "/bin/false",
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnRestart:          func(int) { restarts.Add(1) },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Status() != StatusFailed || m.IsRunning() || restarts.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("status = %q, restarts = %d; want failed after 2 restarts", m.Status(), restarts.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Give the supervisor a moment to give up.
	time.Sleep(50 * time.Millisecond)

	if got := restarts.Load(); got != 2 {
		t.Errorf("restarts = %d, want 2", got)
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil, want exit error")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestManager_StopDuringBackoff(t *testing.T) {
	m := NewManager(Config{
		Name:             "false",
		Binary:           "/bin/false",
		RestartOnFailure: true,
		RestartDelay:     time.Hour,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Status() != StatusFailed {
		if time.Now().After(deadline) {
			t.Fatal("process never exited")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked during restart backoff")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_KillsAfterGracefulTimeout(t *testing.T) {
	m := NewManager(Config{
		Name:            "stubborn",
		Binary:          "/bin/sh",
		Args:            []string{"-c", "trap '' TERM; sleep 60"},
		GracefulTimeout: 200 * time.Millisecond,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	// Let the shell install its trap.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if took := time.Since(start); took > 5*time.Second {
		t.Errorf("Stop() took %v, want SIGKILL shortly after graceful timeout", took)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
}

func TestBackoff(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := m.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

type recordingLogger struct {
	noopLogger
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Info(msg string, args ...any) {
	if msg != "process output" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			l.lines = append(l.lines, args[i+1].(string))
		}
	}
}

func TestLineWriter(t *testing.T) {
	rec := &recordingLogger{}
	w := &lineWriter{log: rec.Info, name: "test", stream: "stdout"}

	w.Write([]byte("first\nsec"))
	w.Write([]byte("ond\r\n\nthird"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"first", "second"}
	if len(rec.lines) != len(want) {
		t.Fatalf("lines = %q, want %q", rec.lines, want)
	}
	for i := range want {
		if rec.lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, rec.lines[i], want[i])
		}
	}
}
