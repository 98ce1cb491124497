package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"neuroswarm/internal/logging"
)

// RestartPolicy decides whether a background task is run again after it
// returns.
type RestartPolicy string

const (
	// RestartAlways reruns the task whenever it returns, error or not.
	RestartAlways RestartPolicy = "always"
	// RestartOnFailure reruns the task only when it returned an error.
	RestartOnFailure RestartPolicy = "on_failure"
	RestartNever     RestartPolicy = "never"
)

type BackoffPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxRestarts int // zero means unlimited
}

func defaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial: 10 * time.Millisecond,
		Max:     time.Second,
		Factor:  2.0,
	}
}

func normalizeBackoffPolicy(policy BackoffPolicy) BackoffPolicy {
	def := defaultBackoffPolicy()
	if policy.Initial <= 0 {
		policy.Initial = def.Initial
	}
	if policy.Max <= 0 {
		policy.Max = def.Max
	}
	if policy.Max < policy.Initial {
		policy.Max = policy.Initial
	}
	if policy.Factor < 1 {
		policy.Factor = def.Factor
	}
	return policy
}

type TaskStatus struct {
	Name     string        `json:"name"`
	Policy   RestartPolicy `json:"policy"`
	Restarts int           `json:"restarts"`
	LastErr  string        `json:"last_error,omitempty"`
	Running  bool          `json:"running"`
	GaveUp   bool          `json:"gave_up"`
}

// Supervisor runs the manager's background loops and restarts them with
// exponential backoff when they exit.
type Supervisor struct {
	backoff BackoffPolicy
	logger  *slog.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	finished map[string]TaskStatus
}

type task struct {
	name   string
	policy RestartPolicy
	run    func(ctx context.Context) error
	cancel context.CancelFunc
	done   chan struct{}

	restarts int
	lastErr  error
	gaveUp   bool
}

func NewSupervisor(backoff BackoffPolicy, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		backoff:  normalizeBackoffPolicy(backoff),
		logger:   logging.Component(logger, "supervisor"),
		tasks:    make(map[string]*task),
		finished: make(map[string]TaskStatus),
	}
}

func (s *Supervisor) Start(name string, policy RestartPolicy, run func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if run == nil {
		return errors.New("task runner is required")
	}
	switch policy {
	case RestartAlways, RestartOnFailure, RestartNever:
	default:
		policy = RestartAlways
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task already running: %s", name)
	}
	delete(s.finished, name)
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{name: name, policy: policy, run: run, cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = t
	go s.loop(ctx, t)
	return nil
}

func (s *Supervisor) loop(ctx context.Context, t *task) {
	defer func() {
		s.mu.Lock()
		if current, ok := s.tasks[t.name]; ok && current == t {
			delete(s.tasks, t.name)
			if t.restarts > 0 || t.lastErr != nil || t.gaveUp {
				s.finished[t.name] = t.status(false)
			}
		}
		s.mu.Unlock()
		close(t.done)
	}()

	wait := s.backoff.Initial
	for {
		err := runGuarded(ctx, t.run)
		if ctx.Err() != nil {
			return
		}
		if !restartAllowed(t.policy, err) {
			if err != nil {
				s.mu.Lock()
				t.lastErr = err
				s.mu.Unlock()
				s.logger.Error("background task failed", "task", t.name, "error", err)
			}
			return
		}

		s.mu.Lock()
		t.lastErr = err
		if s.backoff.MaxRestarts > 0 && t.restarts >= s.backoff.MaxRestarts {
			t.gaveUp = true
			restarts := t.restarts
			s.mu.Unlock()
			s.logger.Error("background task exceeded restart limit", "task", t.name, "restarts", restarts, "error", err)
			return
		}
		t.restarts++
		restarts := t.restarts
		s.mu.Unlock()
		s.logger.Warn("restarting background task", "task", t.name, "restarts", restarts, "backoff", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		wait = time.Duration(float64(wait) * s.backoff.Factor)
		if wait > s.backoff.Max {
			wait = s.backoff.Max
		}
	}
}

// runGuarded turns a panic in run into an error so the task is restarted
// instead of taking the process down.
func runGuarded(ctx context.Context, run func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return run(ctx)
}

func restartAllowed(policy RestartPolicy, err error) bool {
	switch policy {
	case RestartOnFailure:
		return err != nil
	case RestartNever:
		return false
	default:
		return true
	}
}

func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.finished, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	running := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		running = append(running, t)
	}
	s.mu.Unlock()

	for _, t := range running {
		t.cancel()
	}
	for _, t := range running {
		<-t.done
	}
}

// Tasks reports every running task plus finished tasks that failed or
// restarted, sorted by name.
func (s *Supervisor) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks)+len(s.finished))
	for _, t := range s.tasks {
		out = append(out, t.status(true))
	}
	for name, status := range s.finished {
		if _, running := s.tasks[name]; running {
			continue
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *task) status(running bool) TaskStatus {
	status := TaskStatus{
		Name:     t.name,
		Policy:   t.policy,
		Restarts: t.restarts,
		Running:  running,
		GaveUp:   t.gaveUp,
	}
	if t.lastErr != nil {
		status.LastErr = t.lastErr.Error()
	}
	return status
}
