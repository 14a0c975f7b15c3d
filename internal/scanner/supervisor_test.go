package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBackoffFor(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		if got := backoffFor(c.attempt); got != c.want {
			t.Errorf("backoffFor(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestStartMissingBinary(t *testing.T) {
	s := NewSupervisor(SupervisorOptions{
		BinaryPath: "/nonexistent/scanner-bridge",
		Port:       3001,
		Log:        zerolog.Nop(),
	})
	err := s.Start()
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("Start = %v, want ErrBinaryMissing", err)
	}
	if st := s.Status(); st.State != StateStopped || st.Running {
		t.Errorf("Status after failed start = %+v", st)
	}
}

func TestRestartBudgetExhausted(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := NewSupervisor(SupervisorOptions{
		BinaryPath: "/nonexistent/scanner-bridge",
		Port:       3001,
		OnRestartFailed: func() {
			fired <- struct{}{}
		},
		Log: zerolog.Nop(),
	})
	s.mu.Lock()
	s.state = StateExited
	s.restartAttempts = maxRestartAttempts
	s.mu.Unlock()

	s.restartWithBackoff(context.Background())

	select {
	case <-fired:
	default:
		t.Fatal("OnRestartFailed did not fire")
	}
	st := s.Status()
	if st.State != StateRestartFailed {
		t.Errorf("State = %q, want %q", st.State, StateRestartFailed)
	}
	if st.Running {
		t.Error("Running = true after restart failure")
	}
}

func TestStatusSnapshot(t *testing.T) {
	s := NewSupervisor(SupervisorOptions{Port: 3005, Log: zerolog.Nop()})
	st := s.Status()
	if st.State != StateStopped {
		t.Errorf("State = %q, want stopped", st.State)
	}
	if st.Port != 3005 {
		t.Errorf("Port = %d, want 3005", st.Port)
	}
	if st.PID != 0 || st.Running {
		t.Errorf("fresh supervisor Status = %+v", st)
	}
}

func TestForceRestartWhileStopped(t *testing.T) {
	s := NewSupervisor(SupervisorOptions{
		BinaryPath: "/nonexistent/scanner-bridge",
		Port:       3001,
		Log:        zerolog.Nop(),
	})
	if err := s.ForceRestart(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("ForceRestart = %v, want ErrNotRunning", err)
	}
	if st := s.Status(); st.State != StateStopped || st.Running {
		t.Errorf("Status after refused restart = %+v", st)
	}
}
