package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Supervisor states.
const (
	StateStopped       = "stopped"
	StateStarting      = "starting"
	StateRunning       = "running"
	StateDegraded      = "degraded"
	StateExited        = "exited"
	StateRestarting    = "restarting"
	StateRestartFailed = "restart-failed"
)

const (
	healthInterval     = 10 * time.Second
	probeTimeout       = 5 * time.Second
	softStopTimeout    = 3 * time.Second
	restartBackoffBase = 2 * time.Second
	restartBackoffCap  = 30 * time.Second
	maxFailures        = 3
	maxRestartAttempts = 5
	outputRingSize     = 200
)

var (
	ErrBinaryMissing = errors.New("scanner binary not found")
	ErrNotRunning    = errors.New("supervisor not running")
)

// Status is a point-in-time snapshot of the supervised bridge process.
type Status struct {
	State               string    `json:"state"`
	Running             bool      `json:"running"`
	PID                 int       `json:"pid,omitempty"`
	Port                int       `json:"port"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RestartAttempts     int       `json:"restart_attempts"`
	LastHealthCheck     time.Time `json:"last_health_check,omitempty"`
}

// SupervisorOptions configures the bridge process supervisor.
type SupervisorOptions struct {
	BinaryPath string
	Port       int
	// MarkerDir holds the PID marker file (default os.TempDir()).
	MarkerDir string
	// OnRestartFailed fires after the restart budget is exhausted.
	OnRestartFailed func()
	Log             zerolog.Logger
}

// Supervisor owns the scanner-bridge subprocess: it is the only component
// allowed to signal it. It probes health every 10s and restarts the
// process with exponential backoff when it dies or stops answering.
type Supervisor struct {
	opts SupervisorOptions
	log  zerolog.Logger

	mu              sync.Mutex
	state           string
	cmd             *exec.Cmd
	failures        int
	restartAttempts int
	lastHealthCheck time.Time
	output          []string
	probe           *http.Client

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.MarkerDir == "" {
		opts.MarkerDir = os.TempDir()
	}
	return &Supervisor{
		opts:  opts,
		log:   opts.Log.With().Str("component", "scanner-supervisor").Logger(),
		state: StateStopped,
		probe: &http.Client{Timeout: probeTimeout},
	}
}

// Start launches the bridge process and the health loop. Idempotent: a
// second Start while running is a no-op.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning || s.state == StateStarting {
		return nil
	}
	if _, err := os.Stat(s.opts.BinaryPath); err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryMissing, s.opts.BinaryPath)
	}

	if err := s.spawnLocked(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.healthLoop(ctx)
	return nil
}

// spawnLocked starts the process and writes the PID marker. Caller holds mu.
func (s *Supervisor) spawnLocked() error {
	s.state = StateStarting

	cmd := exec.Command(s.opts.BinaryPath, "--port", strconv.Itoa(s.opts.Port))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state = StateStopped
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		s.state = StateStopped
		if isAddrInUse(err) {
			return fmt.Errorf("scanner port %d in use: %w", s.opts.Port, err)
		}
		return fmt.Errorf("start bridge: %w", err)
	}

	s.cmd = cmd
	s.state = StateRunning
	s.failures = 0

	if err := os.WriteFile(s.markerPath(), []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		s.log.Warn().Err(err).Msg("pid marker write failed")
	}
	s.log.Info().Int("pid", cmd.Process.Pid).Int("port", s.opts.Port).Msg("bridge process started")

	go s.captureOutput(stdout)
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.state = StateExited
			s.log.Warn().Err(err).Msg("bridge process exited")
		}
		s.mu.Unlock()
	}()
	return nil
}

// captureOutput keeps the last lines of process output in a ring buffer
// for diagnostics.
func (s *Supervisor) captureOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.mu.Lock()
		s.output = append(s.output, scanner.Text())
		if len(s.output) > outputRingSize {
			s.output = s.output[len(s.output)-outputRingSize:]
		}
		s.mu.Unlock()
	}
}

// Stop gracefully stops the process: soft signal, wait up to 3s, then
// hard kill. Removes the PID marker.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.state = StateStopped
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil && cmd.Process != nil {
		s.terminate(cmd)
	}
	os.Remove(s.markerPath())
	s.log.Info().Msg("bridge supervisor stopped")
}

func (s *Supervisor) terminate(cmd *exec.Cmd) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(softStopTimeout):
		s.log.Warn().Msg("soft stop timed out, killing bridge process")
		_ = cmd.Process.Kill()
		<-done
	}
}

// ForceRestart hard-kills the process, clears failure counters, and
// starts fresh. Called on proxy-level connection failure. A stopped
// supervisor has no health loop to watch the new process, so the restart
// is refused; use Start instead.
func (s *Supervisor) ForceRestart() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cmd := s.cmd
	s.cmd = nil
	s.failures = 0
	s.restartAttempts = 0
	s.state = StateRestarting
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		cmd.Wait()
	}
	os.Remove(s.markerPath())

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnLocked()
}

// Status reports the current supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:               s.state,
		Running:             s.state == StateRunning || s.state == StateDegraded,
		Port:                s.opts.Port,
		ConsecutiveFailures: s.failures,
		RestartAttempts:     s.restartAttempts,
		LastHealthCheck:     s.lastHealthCheck,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	return st
}

// RecentOutput returns a copy of the captured process output.
func (s *Supervisor) RecentOutput() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.output))
	copy(out, s.output)
	return out
}

func (s *Supervisor) healthLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

// checkHealth confirms the PID is alive and the HTTP endpoint answers a
// HEAD probe. Three consecutive failures trigger a backoff restart.
func (s *Supervisor) checkHealth(ctx context.Context) {
	s.mu.Lock()
	cmd := s.cmd
	state := s.state
	s.lastHealthCheck = time.Now()
	s.mu.Unlock()

	if state == StateStopped || state == StateRestartFailed {
		return
	}

	alive := cmd != nil && cmd.Process != nil && processAlive(cmd.Process.Pid)
	healthy := false
	if alive {
		url := fmt.Sprintf("http://localhost:%d/", s.opts.Port)
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err == nil {
			if resp, err := s.probe.Do(req); err == nil {
				resp.Body.Close()
				healthy = true
			}
		}
	}

	s.mu.Lock()
	switch {
	case alive && healthy:
		s.failures = 0
		s.restartAttempts = 0
		s.state = StateRunning
		s.mu.Unlock()
		return
	case alive:
		s.state = StateDegraded
	default:
		s.state = StateExited
	}
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	s.log.Warn().Int("consecutive_failures", failures).Bool("process_alive", alive).
		Msg("bridge health check failed")
	if failures >= maxFailures {
		s.restartWithBackoff(ctx)
	}
}

func (s *Supervisor) restartWithBackoff(ctx context.Context) {
	s.mu.Lock()
	if s.restartAttempts >= maxRestartAttempts {
		s.state = StateRestartFailed
		cb := s.opts.OnRestartFailed
		s.mu.Unlock()
		s.log.Error().Int("attempts", maxRestartAttempts).Msg("bridge restart budget exhausted")
		if cb != nil {
			cb()
		}
		return
	}
	s.restartAttempts++
	attempt := s.restartAttempts
	cmd := s.cmd
	s.cmd = nil
	s.state = StateRestarting
	s.mu.Unlock()

	backoff := backoffFor(attempt)
	s.log.Info().Int("attempt", attempt).Dur("backoff", backoff).Msg("restarting bridge process")

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		cmd.Wait()
	}

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.spawnLocked(); err != nil {
		s.log.Error().Err(err).Msg("bridge respawn failed")
		s.state = StateExited
	} else {
		s.failures = 0
	}
}

// backoffFor doubles from the base per attempt, capped at 30s.
func backoffFor(attempt int) time.Duration {
	backoff := restartBackoffBase << (attempt - 1)
	if backoff > restartBackoffCap || backoff <= 0 {
		backoff = restartBackoffCap
	}
	return backoff
}

func (s *Supervisor) markerPath() string {
	return filepath.Join(s.opts.MarkerDir, fmt.Sprintf("scanner-bridge-%d.pid", s.opts.Port))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
