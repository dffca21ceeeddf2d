package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/session"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type counter struct {
	calls atomic.Int64

	mu   sync.Mutex
	keys []string
	seqs []uint64
}

func (c *counter) action(key func() string) Action {
	return func(ctx context.Context, seq uint64) error {
		c.mu.Lock()
		if key != nil {
			c.keys = append(c.keys, key())
		}
		c.seqs = append(c.seqs, seq)
		c.mu.Unlock()
		c.calls.Add(1)
		return nil
	}
}

func (c *counter) eventually(t *testing.T, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return c.calls.Load() == n }, waitFor, tick,
		"expected %d calls, have %d", n, c.calls.Load())
}

func snapshot(symbol, expiry string, streaming bool) session.Snapshot {
	p := session.DefaultParams()
	p.Symbol = symbol
	p.Expiry = expiry
	return session.Snapshot{Params: p, Streaming: streaming}
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func newScheduler(t *testing.T) (*Scheduler, fakeClock) {
	t.Helper()
	var clock fakeClock = clockwork.NewFakeClock()
	s := NewScheduler(clock, zap.NewNop())
	t.Cleanup(s.Close)
	return s, clock
}

func TestRegister_Validation(t *testing.T) {
	s, _ := newScheduler(t)
	c := &counter{}

	assert.Error(t, s.Register(Task{Kind: KindCountdown, Predicate: Always, Action: c.action(nil)}))
	assert.Error(t, s.Register(Task{Kind: KindCountdown, Interval: time.Second}))
	require.NoError(t, s.Register(Task{Kind: KindCountdown, Interval: time.Second, Predicate: Always, Action: c.action(nil)}))
	assert.Error(t, s.Register(Task{Kind: KindCountdown, Interval: time.Second, Predicate: Always, Action: c.action(nil)}))
}

func TestImmediateFetchThenFixedInterval(t *testing.T) {
	s, clock := newScheduler(t)
	c := &counter{}
	require.NoError(t, s.Register(Task{
		Kind:      KindTrendingHistory,
		Interval:  300 * time.Second,
		Predicate: Always,
		Action:    c.action(nil),
	}))

	s.Reconcile(snapshot("", "", false))
	c.eventually(t, 1)
	assert.True(t, s.Active(KindTrendingHistory))

	clock.Advance(299 * time.Second)
	assert.Never(t, func() bool { return c.calls.Load() != 1 }, 50*time.Millisecond, tick)

	clock.Advance(time.Second)
	c.eventually(t, 2)

	clock.Advance(300 * time.Second)
	c.eventually(t, 3)

	c.mu.Lock()
	assert.Equal(t, []uint64{1, 2, 3}, c.seqs)
	c.mu.Unlock()
}

func TestPredicateGatesActivation(t *testing.T) {
	s, clock := newScheduler(t)
	c := &counter{}
	require.NoError(t, s.Register(Task{
		Kind:      KindQuoteSnapshot,
		Interval:  60 * time.Second,
		Predicate: HasInstrument,
		Key:       InstrumentKey,
		Action:    c.action(nil),
	}))

	s.Reconcile(snapshot("NIFTY", "", false))
	clock.Advance(5 * time.Minute)
	assert.Never(t, func() bool { return c.calls.Load() != 0 }, 50*time.Millisecond, tick)
	assert.False(t, s.Active(KindQuoteSnapshot))
	assert.Equal(t, 0, s.LiveTimers())

	s.Reconcile(snapshot("NIFTY", "26JUN2025", false))
	c.eventually(t, 1)
	assert.Equal(t, 1, s.LiveTimers())
}

func TestDeactivationStopsAllFurtherFetches(t *testing.T) {
	s, clock := newScheduler(t)
	c := &counter{}
	require.NoError(t, s.Register(Task{
		Kind:      KindTickStream,
		Interval:  2 * time.Second,
		Predicate: Streaming,
		Key:       InstrumentKey,
		Action:    c.action(nil),
	}))

	s.Reconcile(snapshot("NIFTY", "26JUN2025", true))
	c.eventually(t, 1)
	clock.Advance(2 * time.Second)
	c.eventually(t, 2)

	s.Reconcile(snapshot("NIFTY", "26JUN2025", false))
	s.Drain()
	assert.Equal(t, 0, s.LiveTimers())
	assert.False(t, s.Active(KindTickStream))

	for i := 0; i < 10; i++ {
		clock.Advance(2 * time.Second)
	}
	assert.Never(t, func() bool { return c.calls.Load() != 2 }, 100*time.Millisecond, tick)
}

func TestReactivationKeepsSingleTimer(t *testing.T) {
	s, _ := newScheduler(t)
	c := &counter{}
	require.NoError(t, s.Register(Task{
		Kind:      KindQuoteSnapshot,
		Interval:  60 * time.Second,
		Predicate: HasInstrument,
		Key:       InstrumentKey,
		Action:    c.action(nil),
	}))

	var maxSeen atomic.Int32
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := int32(s.LiveTimers()); n > maxSeen.Load() {
				maxSeen.Store(n)
			}
		}
	}()

	on := snapshot("NIFTY", "26JUN2025", false)
	off := snapshot("", "", false)
	for i := 0; i < 50; i++ {
		s.Reconcile(on)
		require.Equal(t, 1, s.LiveTimers())
		s.Reconcile(off)
		require.Equal(t, 0, s.LiveTimers())
		s.Reconcile(on)
		require.Equal(t, 1, s.LiveTimers())
		s.Reconcile(on) // no-op: same key
		require.Equal(t, 1, s.LiveTimers())
		s.Reconcile(off)
	}
	close(stop)
	<-sampled

	assert.LessOrEqual(t, maxSeen.Load(), int32(1))
}

func TestParameterChangeRestartsCadence(t *testing.T) {
	s, clock := newScheduler(t)

	var mu sync.Mutex
	current := "NIFTY"
	c := &counter{}
	require.NoError(t, s.Register(Task{
		Kind:      KindQuoteSnapshot,
		Interval:  60 * time.Second,
		Predicate: HasInstrument,
		Key:       InstrumentKey,
		Action: c.action(func() string {
			mu.Lock()
			defer mu.Unlock()
			return current
		}),
	}))

	s.Reconcile(snapshot("NIFTY", "26JUN2025", false))
	c.eventually(t, 1)

	clock.Advance(30 * time.Second)

	mu.Lock()
	current = "BANKNIFTY"
	mu.Unlock()
	s.Reconcile(snapshot("BANKNIFTY", "26JUN2025", false))
	c.eventually(t, 2) // immediate fetch on restart

	// The old cadence would fire here; the restarted one must not.
	clock.Advance(30 * time.Second)
	assert.Never(t, func() bool { return c.calls.Load() != 2 }, 100*time.Millisecond, tick)

	clock.Advance(30 * time.Second)
	c.eventually(t, 3)
	assert.Equal(t, 1, s.LiveTimers())

	c.mu.Lock()
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY", "BANKNIFTY"}, c.keys)
	c.mu.Unlock()
}

func TestFailureKeepsPollerActive(t *testing.T) {
	s, clock := newScheduler(t)

	var calls atomic.Int64
	require.NoError(t, s.Register(Task{
		Kind:      KindTrendingHistory,
		Interval:  time.Minute,
		Predicate: Always,
		Action: func(ctx context.Context, seq uint64) error {
			if calls.Add(1) == 1 {
				return errors.New("connection refused")
			}
			return nil
		},
	}))

	s.Reconcile(snapshot("", "", false))
	require.Eventually(t, func() bool {
		st := s.States()
		return len(st) == 1 && st[0].LastError == "connection refused"
	}, waitFor, tick)
	assert.True(t, s.Active(KindTrendingHistory))

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return s.States()[0].LastError == "" }, waitFor, tick)
}

func TestSlowFetchDoesNotBlockNextTick(t *testing.T) {
	s, clock := newScheduler(t)

	release := make(chan struct{})
	var started atomic.Int64
	require.NoError(t, s.Register(Task{
		Kind:      KindTickStream,
		Interval:  2 * time.Second,
		Predicate: Always,
		Action: func(ctx context.Context, seq uint64) error {
			started.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}))

	s.Reconcile(snapshot("", "", false))
	require.Eventually(t, func() bool { return started.Load() == 1 }, waitFor, tick)

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return started.Load() == 2 }, waitFor, tick)
	close(release)
}

func TestInlineTaskAndOnStart(t *testing.T) {
	s, clock := newScheduler(t)

	var resets, ticks atomic.Int64
	require.NoError(t, s.Register(Task{
		Kind:      KindCountdown,
		Interval:  time.Second,
		Predicate: Always,
		Inline:    true,
		OnStart:   func() { resets.Add(1) },
		Action: func(ctx context.Context, seq uint64) error {
			ticks.Add(1)
			return nil
		},
	}))

	s.Reconcile(snapshot("", "", false))
	assert.Equal(t, int64(1), resets.Load())
	assert.Equal(t, int64(1), ticks.Load()) // inline first dispatch is synchronous

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		want := int64(i + 2)
		require.Eventually(t, func() bool { return ticks.Load() == want }, waitFor, tick)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, zap.NewNop())
	c := &counter{}
	for _, k := range []Kind{KindQuoteSnapshot, KindTrendingHistory} {
		require.NoError(t, s.Register(Task{Kind: k, Interval: time.Second, Predicate: Always, Action: c.action(nil)}))
	}
	s.Reconcile(snapshot("", "", false))
	c.eventually(t, 2)
	assert.Equal(t, 2, s.LiveTimers())

	s.Close()
	assert.Equal(t, 0, s.LiveTimers())
	clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return c.calls.Load() != 2 }, 50*time.Millisecond, tick)

	// Reconcile after Close is ignored.
	s.Reconcile(snapshot("", "", false))
	assert.Equal(t, 0, s.LiveTimers())
	assert.ErrorIs(t, s.Register(Task{Kind: KindCountdown, Interval: time.Second, Predicate: Always, Action: c.action(nil)}), ErrClosed)
}

func TestDeferredTaskWaitsOneInterval(t *testing.T) {
	s, clock := newScheduler(t)

	var ticks atomic.Int64
	require.NoError(t, s.Register(Task{
		Kind:      KindCountdown,
		Interval:  time.Second,
		Predicate: Always,
		Inline:    true,
		Deferred:  true,
		Action: func(ctx context.Context, seq uint64) error {
			ticks.Add(1)
			return nil
		},
	}))

	s.Reconcile(snapshot("", "", false))
	assert.True(t, s.Active(KindCountdown))
	assert.Equal(t, int64(0), ticks.Load())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, waitFor, tick)
}

func TestCommitRejectedAfterDeactivation(t *testing.T) {
	s, _ := newScheduler(t)

	fetched := make(chan struct{})
	release := make(chan struct{})
	var applied atomic.Bool
	committed := make(chan bool, 1)

	require.NoError(t, s.Register(Task{
		Kind:      KindQuoteSnapshot,
		Interval:  time.Minute,
		Predicate: HasInstrument,
		Action: func(ctx context.Context, _ uint64) error {
			close(fetched)
			<-release
			committed <- Commit(ctx, func() { applied.Store(true) })
			return nil
		},
	}))

	s.Reconcile(snapshot("NIFTY", "26JUN2025", false))
	<-fetched

	s.Reconcile(snapshot("", "", false))
	close(release)

	select {
	case ok := <-committed:
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("action did not finish")
	}
	assert.False(t, applied.Load())
}

func TestDeactivationWaitsForCommitInProgress(t *testing.T) {
	s, _ := newScheduler(t)

	applying := make(chan struct{})
	release := make(chan struct{})
	var applied atomic.Bool

	require.NoError(t, s.Register(Task{
		Kind:      KindQuoteSnapshot,
		Interval:  time.Minute,
		Predicate: HasInstrument,
		Action: func(ctx context.Context, _ uint64) error {
			Commit(ctx, func() {
				close(applying)
				<-release
				applied.Store(true)
			})
			return nil
		},
	}))

	s.Reconcile(snapshot("NIFTY", "26JUN2025", false))
	<-applying

	var stopped atomic.Bool
	go func() {
		s.Reconcile(snapshot("", "", false))
		stopped.Store(true)
	}()

	assert.Never(t, stopped.Load, 50*time.Millisecond, tick)
	close(release)
	require.Eventually(t, stopped.Load, waitFor, tick)
	assert.True(t, applied.Load())
}

func TestCommitWithoutSchedulerContext(t *testing.T) {
	var applied bool
	assert.True(t, Commit(context.Background(), func() { applied = true }))
	assert.True(t, applied)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Commit(ctx, func() { t.Fatal("applied after cancel") }))
}
