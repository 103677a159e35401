package reporter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nerrad567/locshare-core/internal/process"
)

// Logger is the logging interface used by the reporter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Env var names handed to the child.
const (
	EnvSessionToken   = "LOCSHARE_SESSION_TOKEN"
	EnvBackendBaseURL = "LOCSHARE_BACKEND_BASE_URL"
	EnvUserID         = "LOCSHARE_SESSION_USER_ID"
)

// SupervisorConfig configures the reporting child.
type SupervisorConfig struct {
	// Binary is the executable to launch. Empty means os.Executable().
	Binary string

	// Args precede "--user <id>". Defaults to ["report"].
	Args []string

	// Token and BaseURL are passed through the environment.
	Token   string
	BaseURL string

	// ConfigPath, when set, is exported as LOCSHARE_CONFIG.
	ConfigPath string

	RestartDelay       time.Duration
	MaxRestartAttempts int
	GracefulTimeout    time.Duration

	// OnExit is called with the child's exit error; nil for a requested stop.
	OnExit func(err error)
}

// managed is the slice of process.Manager the supervisor uses.
type managed interface {
	Start(ctx context.Context) error
	Stop() error
	Stats() process.Stats
	IsRunning() bool
}

// Supervisor starts and stops the reporting child for one user at a time.
type Supervisor struct {
	cfg    SupervisorConfig
	logger Logger

	// newManager is replaced in tests.
	newManager func(process.Config, Logger) managed

	mu     sync.Mutex
	mgr    managed
	userID string
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if len(cfg.Args) == 0 {
		cfg.Args = []string{"report"}
	}
	return &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
		newManager: func(pc process.Config, l Logger) managed {
			m := process.NewManager(pc)
			m.SetLogger(l)
			return m
		},
	}
}

// SetLogger sets the logger.
func (s *Supervisor) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// Start launches the reporting child for userID. It returns once the child
// is running; any launch failure wraps ErrStartFailed. Starting for the
// user already being reported is a no-op; a different user replaces the
// running child.
func (s *Supervisor) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mgr != nil {
		if s.userID == userID && s.mgr.IsRunning() {
			return nil
		}
		if err := s.mgr.Stop(); err != nil {
			s.logger.Warn("stopping previous reporter failed", "error", err)
		}
		s.mgr = nil
		s.userID = ""
	}

	pc, err := s.processConfig(userID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	mgr := s.newManager(pc, s.logger)
	// The child outlives the request that started it; only Stop ends it.
	if err := mgr.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	s.mgr = mgr
	s.userID = userID
	s.logger.Info("reporter started", "user_id", userID, "pid", mgr.Stats().PID)
	return nil
}

func (s *Supervisor) processConfig(userID string) (process.Config, error) {
	binary := s.cfg.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return process.Config{}, fmt.Errorf("resolving executable: %w", err)
		}
		binary = exe
	}

	args := make([]string, 0, len(s.cfg.Args)+2)
	args = append(args, s.cfg.Args...)
	args = append(args, "--user", userID)

	env := []string{
		EnvSessionToken + "=" + s.cfg.Token,
		EnvBackendBaseURL + "=" + s.cfg.BaseURL,
		EnvUserID + "=" + userID,
	}
	if s.cfg.ConfigPath != "" {
		env = append(env, "LOCSHARE_CONFIG="+s.cfg.ConfigPath)
	}

	pc := process.DefaultConfig("reporter", binary, args)
	pc.Env = env
	if s.cfg.RestartDelay > 0 {
		pc.RestartDelay = s.cfg.RestartDelay
	}
	if s.cfg.MaxRestartAttempts > 0 {
		pc.MaxRestartAttempts = s.cfg.MaxRestartAttempts
	}
	if s.cfg.GracefulTimeout > 0 {
		pc.GracefulTimeout = s.cfg.GracefulTimeout
	}
	pc.OnExit = s.cfg.OnExit
	return pc, nil
}

// Stop terminates the reporting child. It returns ctx.Err() if ctx ends
// before the child has exited; the stop still completes in the background.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	mgr := s.mgr
	s.mgr = nil
	s.userID = ""
	s.mu.Unlock()

	if mgr == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- mgr.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stopping reporter: %w", err)
		}
		s.logger.Info("reporter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a reporting child is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr != nil && s.mgr.IsRunning()
}

// Stats returns the child's process stats; ok is false when none is managed.
func (s *Supervisor) Stats() (process.Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr == nil {
		return process.Stats{}, false
	}
	return s.mgr.Stats(), true
}
