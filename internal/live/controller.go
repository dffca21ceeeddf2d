// Package live owns the live-session state machine: it feeds session changes
// into the poller registry and merges poller results into the view model.
package live

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/api"
	"github.com/dgnsrekt/gexlive/internal/instrument"
	"github.com/dgnsrekt/gexlive/internal/notify"
	"github.com/dgnsrekt/gexlive/internal/poller"
	"github.com/dgnsrekt/gexlive/internal/session"
	"github.com/dgnsrekt/gexlive/internal/viewmodel"
)

// StreamStartedMessage is shown after the collaborator accepts a stream.
const StreamStartedMessage = "Live stream started! Please wait for charts to load..."

// Options configures cadences and contract lookup.
type Options struct {
	QuoteInterval     time.Duration
	TrendingInterval  time.Duration
	TickInterval      time.Duration
	CountdownInterval time.Duration
	StatusTTL         time.Duration

	// ContractStep returns the strike step sent with start_stream.
	ContractStep func(symbol string) int
}

// DefaultOptions mirrors the collaborator's expected cadences.
func DefaultOptions() Options {
	return Options{
		QuoteInterval:     60 * time.Second,
		TrendingInterval:  300 * time.Second,
		TickInterval:      2 * time.Second,
		CountdownInterval: time.Second,
		StatusTTL:         8 * time.Second,
		ContractStep:      func(string) int { return 50 },
	}
}

type Controller struct {
	store    *session.Store
	holder   *viewmodel.Holder
	sched    *poller.Scheduler
	client   api.Client
	notifier notify.Notifier
	clock    clockwork.Clock
	opts     Options
	logger   *zap.Logger

	running atomic.Bool

	mu          sync.Mutex
	started     bool
	stopped     bool
	subID       int
	watchDone   chan struct{}
	statusTimer clockwork.Timer
	cancel      context.CancelFunc
}

// New builds a controller and registers its pollers. Nothing runs until Start.
func New(store *session.Store, holder *viewmodel.Holder, client api.Client, notifier notify.Notifier,
	clock clockwork.Clock, opts Options, logger *zap.Logger) (*Controller, error) {
	if opts.ContractStep == nil {
		opts.ContractStep = DefaultOptions().ContractStep
	}
	if notifier == nil {
		notifier = &notify.NoopNotifier{}
	}

	c := &Controller{
		store:    store,
		holder:   holder,
		sched:    poller.NewScheduler(clock, logger.Named("poller")),
		client:   client,
		notifier: notifier,
		clock:    clock,
		opts:     opts,
		logger:   logger,
	}

	tasks := []poller.Task{
		{
			Kind:      poller.KindQuoteSnapshot,
			Interval:  opts.QuoteInterval,
			Predicate: poller.HasInstrument,
			Key:       poller.InstrumentKey,
			Action:    c.pollQuote,
			OnStart:   holder.ResetCountdown,
		},
		{
			Kind:      poller.KindTrendingHistory,
			Interval:  opts.TrendingInterval,
			Predicate: poller.Always,
			Action:    c.pollTrending,
		},
		{
			Kind:      poller.KindTickStream,
			Interval:  opts.TickInterval,
			Predicate: poller.Streaming,
			Key:       poller.InstrumentKey,
			Action:    c.pollTicks,
		},
		{
			Kind:      poller.KindCountdown,
			Interval:  opts.CountdownInterval,
			Predicate: poller.Always,
			Action:    c.tickCountdown,
			Inline:    true,
			Deferred:  true,
		},
	}
	for _, t := range tasks {
		if err := c.sched.Register(t); err != nil {
			return nil, fmt.Errorf("registering %s: %w", t.Kind, err)
		}
	}
	return c, nil
}

// Start activates pollers for the current session and begins watching for
// session changes. The expiry list is fetched once in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	id, changes := c.store.Subscribe(1)
	c.subID = id
	c.watchDone = make(chan struct{})
	c.mu.Unlock()

	c.running.Store(true)
	go c.watch(changes, c.watchDone)
	c.reconcile()

	go func() {
		if err := c.LoadExpiries(ctx); err != nil {
			c.logger.Warn("failed to fetch expiry list", zap.Error(err))
		}
	}()

	c.logger.Info("live controller started")
	return nil
}

// Stop cancels every poller and waits for in-flight fetches to return.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.running.Store(false)
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	if c.statusTimer != nil {
		c.statusTimer.Stop()
		c.statusTimer = nil
	}
	c.mu.Unlock()

	c.sched.Close()
	if started {
		c.store.Unsubscribe(c.subID)
		<-c.watchDone
	}
	c.logger.Info("live controller stopped")
}

// watch reconciles on every session change. Events are coalesced by the
// store; the snapshot is always re-read so no change is missed.
func (c *Controller) watch(changes <-chan session.Change, done chan struct{}) {
	defer close(done)
	for range changes {
		c.reconcile()
	}
}

// reconcile is a no-op outside Start/Stop.
func (c *Controller) reconcile() {
	if !c.running.Load() {
		return
	}
	c.sched.Reconcile(c.store.Snapshot())
}

// UpdateSession applies a partial user edit.
func (c *Controller) UpdateSession(p session.Patch) session.Params {
	if p.Symbol != nil {
		s := strings.ToUpper(strings.TrimSpace(*p.Symbol))
		p.Symbol = &s
	}
	if p.Expiry != nil {
		e := strings.ToUpper(strings.TrimSpace(*p.Expiry))
		p.Expiry = &e
	}
	params := c.store.Update(p)
	c.reconcile()
	return params
}

// SetSeriesVisible toggles a chart series.
func (c *Controller) SetSeriesVisible(name string, visible bool) {
	c.store.SetSeriesVisible(name, visible)
	c.holder.Touch()
}

// StartStream asks the collaborator to begin market data capture. Empty
// symbol or expiry fall back to the current session values.
func (c *Controller) StartStream(ctx context.Context, symbol, expiry string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	expiry = strings.ToUpper(strings.TrimSpace(expiry))

	params := c.store.Params()
	if symbol == "" {
		symbol = params.Symbol
	}
	if expiry == "" {
		expiry = params.Expiry
	}
	if symbol == "" || expiry == "" {
		return fmt.Errorf("%w: symbol and expiry are required to start a stream", ErrMissingInput)
	}

	params = c.store.Update(session.Patch{Symbol: &symbol, Expiry: &expiry})

	ev := notify.StreamEvent{
		Symbol:       symbol,
		Expiry:       expiry,
		StrikeRange:  params.StrikeRange,
		ContractStep: c.opts.ContractStep(symbol),
	}
	req := api.StreamRequest{
		Symbol:       ev.Symbol,
		Expiry:       ev.Expiry,
		StrikeRange:  ev.StrikeRange,
		ContractStep: ev.ContractStep,
	}

	c.logger.Info("starting stream",
		zap.String("symbol", symbol),
		zap.String("expiry", expiry),
		zap.Int("strikeRange", req.StrikeRange),
		zap.Int("contractStep", req.ContractStep),
	)

	if err := c.client.StartStream(ctx, req); err != nil {
		if nerr := c.notifier.StreamFailed(ctx, ev, err); nerr != nil {
			c.logger.Debug("notification failed", zap.Error(nerr))
		}
		c.reconcile()
		return fmt.Errorf("starting stream: %w", err)
	}

	c.store.SetStreaming(true)
	c.reconcile()
	c.showStatus(StreamStartedMessage)

	if err := c.notifier.StreamStarted(ctx, ev); err != nil {
		c.logger.Debug("notification failed", zap.Error(err))
	}
	return nil
}

// StopStream stops polling raw ticks. The collaborator has no stop endpoint,
// so this only affects local pollers.
func (c *Controller) StopStream() error {
	if !c.store.Snapshot().Streaming {
		return ErrNoActiveSession
	}
	c.store.SetStreaming(false)
	c.reconcile()
	c.logger.Info("stream polling stopped")
	return nil
}

// Compute submits a spreadsheet to the collaborator and merges the result
// with the quote snapshot rule. A request without a file is rejected before
// anything is sent.
func (c *Controller) Compute(ctx context.Context, req api.ComputeRequest) (viewmodel.Metrics, error) {
	if req.File == nil {
		return viewmodel.Metrics{}, fmt.Errorf("%w: no file selected", ErrMissingInput)
	}
	if req.ContractSize == 0 {
		req.ContractSize = c.store.Params().ContractSize
	}
	if req.Volatility == 0 {
		req.Volatility = c.store.Params().Volatility
	}
	if req.Strikes == 0 {
		req.Strikes = c.store.Params().StrikeRange
	}

	m, err := c.client.Compute(ctx, req)
	if err != nil {
		return viewmodel.Metrics{}, fmt.Errorf("computing metrics: %w", err)
	}
	if m.Dropped > 0 {
		c.logger.Debug("dropped malformed series elements", zap.Int("count", m.Dropped))
	}
	c.holder.ApplyCompute(m)
	return m, nil
}

// LoadExpiries fetches the expiry list. When no expiry is selected yet, the
// first entry is preselected.
func (c *Controller) LoadExpiries(ctx context.Context) error {
	expiries, err := c.client.ExpiryList(ctx)
	if err != nil {
		return fmt.Errorf("fetching expiries: %w", err)
	}
	c.holder.SetExpiries(expiries)

	if len(expiries) > 0 && c.store.Params().Expiry == "" {
		first := strings.ToUpper(expiries[0])
		c.store.Update(session.Patch{Expiry: &first})
		c.reconcile()
	}
	return nil
}

// View renders the view model with the current series toggles.
func (c *Controller) View() viewmodel.View {
	return c.holder.Render(c.store.Snapshot().Visible)
}

// Session returns the current session snapshot.
func (c *Controller) Session() session.Snapshot {
	return c.store.Snapshot()
}

// Pollers reports the state of every poller.
func (c *Controller) Pollers() []poller.State {
	return c.sched.States()
}

// Subscribe delivers a notification after every view model change.
func (c *Controller) Subscribe(bufSize int) (int, <-chan viewmodel.Update) {
	return c.holder.Subscribe(bufSize)
}

// Unsubscribe releases a subscription from Subscribe.
func (c *Controller) Unsubscribe(id int) {
	c.holder.Unsubscribe(id)
}

func (c *Controller) showStatus(msg string) {
	c.holder.SetStatus(msg)
	if c.opts.StatusTTL <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.statusTimer != nil {
		c.statusTimer.Stop()
	}
	c.statusTimer = c.clock.AfterFunc(c.opts.StatusTTL, func() {
		c.holder.ClearStatus(msg)
	})
}

func (c *Controller) pollQuote(ctx context.Context, seq uint64) error {
	m, err := c.client.LiveData(ctx)
	if err != nil {
		return err
	}
	if m.Dropped > 0 {
		c.logger.Debug("dropped malformed series elements", zap.Int("count", m.Dropped))
	}
	poller.Commit(ctx, func() { c.holder.ApplyQuote(seq, m) })
	return nil
}

func (c *Controller) pollTrending(ctx context.Context, seq uint64) error {
	rows, err := c.client.TrendingGex(ctx)
	if err != nil {
		return err
	}
	poller.Commit(ctx, func() { c.holder.ApplyTrending(seq, rows) })
	return nil
}

func (c *Controller) pollTicks(ctx context.Context, _ uint64) error {
	ticks, err := c.client.RawTicks(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil || len(ticks) == 0 {
		return nil
	}

	inst, ok := instrument.FromBatch(ticks)
	if !ok {
		c.logger.Debug("tick identifier did not match",
			zap.String("identifier", ticks[0].InstrumentIdentifier))
		return nil
	}
	if inst == c.store.Params().Instrument() {
		return nil
	}

	c.logger.Info("instrument derived from tick",
		zap.String("symbol", inst.Symbol),
		zap.String("expiry", inst.Expiry),
	)
	// The store publishes the change; the watcher restarts stream-bound pollers.
	poller.Commit(ctx, func() { c.store.ApplyInstrument(inst) })
	return nil
}

func (c *Controller) tickCountdown(context.Context, uint64) error {
	c.holder.TickCountdown()
	return nil
}
