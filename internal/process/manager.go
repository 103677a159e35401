package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start while the manager is active.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrStartFailed wraps the exec failure of the first launch.
	ErrStartFailed = errors.New("process: start failed")

	errStopping = errors.New("process: stopping")
)

// Config holds configuration for a managed process.
type Config struct {
	// Name identifies the process in logs.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are passed to the executable.
	Args []string

	// Env is appended to the parent's environment.
	Env []string

	// WorkDir is the working directory; empty uses the parent's.
	WorkDir string

	// RestartOnFailure relaunches the process after an unexpected exit.
	RestartOnFailure bool

	// RestartDelay is the first backoff delay. It doubles per consecutive
	// failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a process must run before its restart
	// counter resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnExit is called whenever the process exits. err is nil for a
	// requested stop.
	OnExit func(err error)

	// OnRestart is called before each relaunch with the attempt number.
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config with restart enabled and default timings.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:               name,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Second,
		MaxRestartDelay:    5 * time.Minute,
		StableThreshold:    2 * time.Minute,
		MaxRestartAttempts: 10,
		GracefulTimeout:    10 * time.Second,
	}
}

// Logger is the logging interface used by Manager.
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

// Manager supervises one child process: launch, output capture, restart
// with exponential backoff, and graceful stop of the whole process group.
type Manager struct {
	config Config
	logger Logger

	mu           sync.RWMutex
	cmd          *exec.Cmd
	status       Status
	active       bool
	stopping     bool
	running      bool
	restartCount int
	lastError    error
	startTime    time.Time
	stopCh       chan struct{}
	done         chan struct{}
}

// NewManager creates a Manager, filling unset timings with defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (m *Manager) SetLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// Start launches the process and begins supervising it. It returns once the
// process has been exec'd; a failure to exec is returned wrapped in
// ErrStartFailed and no supervision is started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.active = true
	m.stopping = false
	m.restartCount = 0
	m.lastError = nil
	m.status = StatusStarting
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	if err := m.spawn(); err != nil {
		m.mu.Lock()
		m.active = false
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		close(done)
		return fmt.Errorf("%w: %s: %w", ErrStartFailed, m.config.Name, err)
	}

	go m.supervise(ctx, stopCh, done)
	return nil
}

// spawn execs the configured binary in its own process group. It holds the
// lock across exec so Stop either sees the new process or prevents it.
func (m *Manager) spawn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping {
		return errStopping
	}

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from daemon config
	cmd.Dir = m.config.WorkDir
	if len(m.config.Env) > 0 {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = &lineWriter{log: m.logger.Info, name: m.config.Name, stream: "stdout"}
	cmd.Stderr = &lineWriter{log: m.logger.Warn, name: m.config.Name, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		return err
	}

	m.cmd = cmd
	m.running = true
	m.status = StatusRunning
	m.startTime = time.Now()

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	return nil
}

// supervise waits for each process exit and relaunches it until stopped,
// cancelled, or out of restart attempts.
func (m *Manager) supervise(ctx context.Context, stopCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		waitErr := cmd.Wait()

		m.mu.Lock()
		m.running = false
		ranFor := time.Since(m.startTime)
		stopping := m.stopping
		if stopping {
			m.status = StatusStopped
			m.active = false
		} else {
			if waitErr == nil {
				waitErr = errors.New("exited unexpectedly")
			}
			m.status = StatusFailed
			m.lastError = waitErr
			if ranFor >= m.config.StableThreshold {
				m.restartCount = 0
			}
		}
		m.mu.Unlock()

		if stopping {
			m.logger.Info("process stopped", "name", m.config.Name)
			if m.config.OnExit != nil {
				m.config.OnExit(nil)
			}
			return
		}

		m.logger.Warn("process exited", "name", m.config.Name, "error", waitErr, "ran_for", ranFor)
		if m.config.OnExit != nil {
			m.config.OnExit(waitErr)
		}

		if !m.config.RestartOnFailure || !m.relaunch(ctx, stopCh) {
			m.mu.Lock()
			m.active = false
			if m.stopping {
				m.status = StatusStopped
			}
			m.mu.Unlock()
			return
		}
	}
}

// relaunch backs off and spawns again, retrying exec failures, until a
// process is running. It reports false when supervision should end.
func (m *Manager) relaunch(ctx context.Context, stopCh <-chan struct{}) bool {
	for {
		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("process restart attempts exhausted",
				"name", m.config.Name, "attempts", m.config.MaxRestartAttempts)
			return false
		}

		delay := m.backoff(attempt)
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-stopCh:
			timer.Stop()
			return false
		case <-timer.C:
		}

		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		err := m.spawn()
		if err == nil {
			return true
		}
		if errors.Is(err, errStopping) {
			return false
		}

		m.mu.Lock()
		m.lastError = err
		m.mu.Unlock()
		m.logger.Error("process relaunch failed", "name", m.config.Name, "error", err)
	}
}

// backoff returns RestartDelay doubled per attempt, capped at MaxRestartDelay.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return delay
}

// Stop terminates the process group with SIGTERM, escalating to SIGKILL
// after GracefulTimeout, and waits for supervision to end. Stop on an
// inactive manager is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.active || m.stopping {
		done := m.done
		m.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	m.stopping = true
	close(m.stopCh)
	done := m.done
	var pid int
	if m.running && m.cmd != nil && m.cmd.Process != nil {
		pid = m.cmd.Process.Pid
	}
	m.mu.Unlock()

	if pid == 0 {
		<-done
		return nil
	}

	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("sending SIGTERM failed", "name", m.config.Name, "error", err)
	}

	timer := time.NewTimer(m.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	m.logger.Warn("process did not exit gracefully, killing", "name", m.config.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		<-done
		return fmt.Errorf("killing %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current process status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether a process is currently alive.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent exit or relaunch error.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of consecutive restarts.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the pid of the running process, or 0.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running || m.cmd == nil || m.cmd.Process == nil {
		return 0
	}
	return m.cmd.Process.Pid
}

// Uptime returns how long the current process has been running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return 0
	}
	return time.Since(m.startTime)
}

// Stats is a snapshot of the manager for status endpoints.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the manager.
func (m *Manager) Stats() Stats {
	s := Stats{
		Name:         m.config.Name,
		Status:       m.Status(),
		PID:          m.PID(),
		Uptime:       m.Uptime(),
		RestartCount: m.RestartCount(),
	}
	if err := m.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

// lineWriter forwards complete output lines of the child to a log function.
type lineWriter struct {
	log    func(msg string, args ...any)
	name   string
	stream string
	buf    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			w.log("process output", "name", w.name, "stream", w.stream, "line", line)
		}
	}
	return len(p), nil
}
