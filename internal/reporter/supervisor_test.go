package reporter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/locshare-core/internal/process"
)

type fakeManager struct {
	cfg      process.Config
	startErr error
	running  bool
	stops    int
	stopHold chan struct{}
}

func (f *fakeManager) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeManager) Stop() error {
	if f.stopHold != nil {
		<-f.stopHold
	}
	f.stops++
	f.running = false
	return nil
}

func (f *fakeManager) Stats() process.Stats { return process.Stats{Name: f.cfg.Name} }
func (f *fakeManager) IsRunning() bool      { return f.running }

func newFakeSupervisor(cfg SupervisorConfig) (*Supervisor, *[]*fakeManager) {
	s := NewSupervisor(cfg)
	var made []*fakeManager
	s.newManager = func(pc process.Config, _ Logger) managed {
		m := &fakeManager{cfg: pc}
		made = append(made, m)
		return m
	}
	return s, &made
}

func TestSupervisor_ProcessConfig(t *testing.T) {
	s, made := newFakeSupervisor(SupervisorConfig{
		Binary:             "/usr/bin/locshared",
		Token:              "secret-token",
		BaseURL:            "https://api.example.com",
		ConfigPath:         "/etc/locshare/config.yaml",
		MaxRestartAttempts: 3,
	})

	if err := s.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if len(*made) != 1 {
		t.Fatalf("managers created = %d, want 1", len(*made))
	}
	pc := (*made)[0].cfg

	if pc.Binary != "/usr/bin/locshared" {
		t.Errorf("Binary = %q", pc.Binary)
	}
	if got := strings.Join(pc.Args, " "); got != "report --user user-1" {
		t.Errorf("Args = %q, want %q", got, "report --user user-1")
	}
	for _, a := range pc.Args {
		if strings.Contains(a, "secret-token") {
			t.Error("session token leaked into argv")
		}
	}
	env := strings.Join(pc.Env, "\n")
	for _, want := range []string{
		"LOCSHARE_SESSION_TOKEN=secret-token",
		"LOCSHARE_BACKEND_BASE_URL=https://api.example.com",
		"LOCSHARE_SESSION_USER_ID=user-1",
		"LOCSHARE_CONFIG=/etc/locshare/config.yaml",
	} {
		if !strings.Contains(env, want) {
			t.Errorf("Env missing %q", want)
		}
	}
	if !pc.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if pc.MaxRestartAttempts != 3 {
		t.Errorf("MaxRestartAttempts = %d, want 3", pc.MaxRestartAttempts)
	}
	if !s.Running() {
		t.Error("Running() = false after Start")
	}
}

func TestSupervisor_StartRequiresUser(t *testing.T) {
	s, _ := newFakeSupervisor(SupervisorConfig{Binary: "/bin/true"})
	if err := s.Start(context.Background(), ""); !errors.Is(err, ErrNoUser) {
		t.Errorf("Start(\"\") error = %v, want ErrNoUser", err)
	}
}

func TestSupervisor_StartIdempotentForSameUser(t *testing.T) {
	s, made := newFakeSupervisor(SupervisorConfig{Binary: "/bin/true"})
	ctx := context.Background()

	if err := s.Start(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	if len(*made) != 1 {
		t.Errorf("managers created = %d, want 1", len(*made))
	}

	if err := s.Start(ctx, "user-2"); err != nil {
		t.Fatal(err)
	}
	if len(*made) != 2 {
		t.Fatalf("managers created = %d, want 2", len(*made))
	}
	if (*made)[0].stops != 1 {
		t.Errorf("previous child stops = %d, want 1", (*made)[0].stops)
	}
}

func TestSupervisor_StartFailure(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Binary: "/bin/true"})
	s.newManager = func(pc process.Config, _ Logger) managed {
		return &fakeManager{cfg: pc, startErr: process.ErrStartFailed}
	}

	err := s.Start(context.Background(), "user-1")
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Start() error = %v, want ErrStartFailed", err)
	}
	if s.Running() {
		t.Error("Running() = true after failed start")
	}
	if _, ok := s.Stats(); ok {
		t.Error("Stats() ok = true after failed start")
	}
}

func TestSupervisor_StopHonoursContext(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Binary: "/bin/true"})
	hold := make(chan struct{})
	defer close(hold)
	s.newManager = func(pc process.Config, _ Logger) managed {
		return &fakeManager{cfg: pc, stopHold: hold}
	}

	if err := s.Start(context.Background(), "user-1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want deadline exceeded", err)
	}
	if s.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestSupervisor_StopWithoutStart(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{})
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
}

func TestSupervisor_RealChild(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env")

	// sh -c receives "--user <id>" as positional parameters.
	s := NewSupervisor(SupervisorConfig{
		Binary:          "/bin/sh",
		Args:            []string{"-c", `echo "$2 $LOCSHARE_SESSION_TOKEN" > ` + out + `; exec sleep 60`, "sh"},
		Token:           "tok",
		GracefulTimeout: 2 * time.Second,
	})

	if err := s.Start(context.Background(), "user-9"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var data []byte
	deadline := time.Now().Add(2 * time.Second)
	for {
		b, err := os.ReadFile(out)
		if err == nil && len(b) > 0 {
			data = b
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("child never wrote its environment")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := strings.TrimSpace(string(data)); got != "user-9 tok" {
		t.Errorf("child saw %q, want %q", got, "user-9 tok")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if s.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestSupervisor_RealChildBadBinary(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Binary: "/nonexistent/locshared"})
	if err := s.Start(context.Background(), "user-1"); !errors.Is(err, ErrStartFailed) {
		t.Errorf("Start() error = %v, want ErrStartFailed", err)
	}
}
