package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/session"
)

var ErrClosed = errors.New("scheduler closed")

// Scheduler owns one timer per active task. Reconcile is the only way tasks
// change state; it is safe to call from any goroutine.
type Scheduler struct {
	clock  clockwork.Clock
	logger *zap.Logger

	root   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	order   []Kind
	entries map[Kind]*entry
	closed  bool

	live     atomic.Int32
	inflight sync.WaitGroup
}

type entry struct {
	task Task
	seq  atomic.Uint64
	runs atomic.Uint64
	run  *run // guarded by Scheduler.mu

	errMu   sync.Mutex
	lastErr error
}

type run struct {
	key     string
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	// gate orders Commit calls against stop: once stop returns, no commit of
	// this run is in progress and none will succeed.
	gate *sync.RWMutex
}

type gateKey struct{}

// Commit applies the result of an action unless its run has been deactivated.
// It reports whether apply ran. apply must not call back into the scheduler.
func Commit(ctx context.Context, apply func()) bool {
	if gate, ok := ctx.Value(gateKey{}).(*sync.RWMutex); ok {
		gate.RLock()
		defer gate.RUnlock()
	}
	if ctx.Err() != nil {
		return false
	}
	apply()
	return true
}

// NewScheduler creates an empty scheduler on the given clock.
func NewScheduler(clock clockwork.Clock, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clock,
		logger:  logger,
		root:    ctx,
		cancel:  cancel,
		entries: make(map[Kind]*entry),
	}
}

// Register adds a task in Idle state.
func (s *Scheduler) Register(t Task) error {
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Kind)
	}
	if t.Action == nil || t.Predicate == nil {
		return fmt.Errorf("task %s: action and predicate are required", t.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.entries[t.Kind]; ok {
		return fmt.Errorf("task %s already registered", t.Kind)
	}
	s.entries[t.Kind] = &entry{task: t}
	s.order = append(s.order, t.Kind)
	return nil
}

// Reconcile evaluates every predicate against snap and starts, stops or
// restarts runs so that the set of active tasks matches.
func (s *Scheduler) Reconcile(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for _, kind := range s.order {
		e := s.entries[kind]
		want := e.task.Predicate(snap)
		key := ""
		if e.task.Key != nil {
			key = e.task.Key(snap)
		}

		switch {
		case !want && e.run != nil:
			s.stop(e)
			s.logger.Info("poller deactivated", zap.String("poller", string(kind)))

		case want && e.run == nil:
			s.start(e, key)
			s.logger.Info("poller activated",
				zap.String("poller", string(kind)),
				zap.Duration("interval", e.task.Interval),
			)

		case want && e.run.key != key:
			s.stop(e)
			s.start(e, key)
			s.logger.Info("poller restarted",
				zap.String("poller", string(kind)),
				zap.String("key", key),
			)
		}
	}
}

// start must be called with mu held.
func (s *Scheduler) start(e *entry, key string) {
	gate := &sync.RWMutex{}
	ctx, cancel := context.WithCancel(context.WithValue(s.root, gateKey{}, gate))
	ticker := s.clock.NewTicker(e.task.Interval)
	r := &run{
		key:     key,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: s.clock.Now(),
		gate:    gate,
	}
	e.run = r
	s.live.Add(1)

	if e.task.OnStart != nil {
		e.task.OnStart()
	}

	if !e.task.Deferred {
		s.dispatch(ctx, e)
	}
	go s.loop(ctx, e, ticker, r.done)
}

// stop cancels the run, waits for its loop to exit and for any Commit in
// progress to finish. Must be called with mu held.
func (s *Scheduler) stop(e *entry) {
	r := e.run
	e.run = nil
	r.cancel()
	<-r.done
	// Wait out commits that passed their cancellation check before cancel.
	r.gate.Lock()
	r.gate.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, e *entry, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer s.live.Add(-1)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			// Both cases may be ready; a cancelled run must not fire again.
			if ctx.Err() != nil {
				return
			}
			s.dispatch(ctx, e)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, e *entry) {
	seq := e.seq.Add(1)
	e.runs.Add(1)

	if e.task.Inline {
		s.invoke(ctx, e, seq)
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.invoke(ctx, e, seq)
	}()
}

// invoke runs the action. Failures are logged and recorded; the task stays active.
func (s *Scheduler) invoke(ctx context.Context, e *entry, seq uint64) {
	err := e.task.Action(ctx, seq)
	if ctx.Err() != nil {
		return
	}

	e.errMu.Lock()
	e.lastErr = err
	e.errMu.Unlock()

	if err != nil {
		s.logger.Warn("poll failed",
			zap.String("poller", string(e.task.Kind)),
			zap.Uint64("seq", seq),
			zap.Error(err),
		)
	}
}

// States reports every registered task in registration order.
func (s *Scheduler) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]State, 0, len(s.order))
	for _, kind := range s.order {
		e := s.entries[kind]
		st := State{
			Kind:     kind,
			Interval: e.task.Interval,
			Runs:     e.runs.Load(),
		}
		if e.run != nil {
			st.Active = true
			st.Since = e.run.started
		}
		e.errMu.Lock()
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.errMu.Unlock()
		states = append(states, st)
	}
	return states
}

// Active reports whether the task of the given kind currently runs.
func (s *Scheduler) Active(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[kind]
	return ok && e.run != nil
}

// LiveTimers returns the number of loops currently holding a timer.
func (s *Scheduler) LiveTimers() int {
	return int(s.live.Load())
}

// Drain waits for in-flight actions to return. Only meaningful once no task is active.
func (s *Scheduler) Drain() {
	s.inflight.Wait()
}

// Close stops every run and waits for in-flight actions. The scheduler cannot be reused.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, kind := range s.order {
		if e := s.entries[kind]; e.run != nil {
			s.stop(e)
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.inflight.Wait()
	s.logger.Info("scheduler closed")
}
