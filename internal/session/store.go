// Package session holds the live session's trading parameters and chart toggles,
// with change notification for whoever schedules work off them.
package session

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/instrument"
)

const (
	DefaultContractSize = 75
	DefaultVolatility   = 0.15
	DefaultStrikeRange  = 5
)

// Params are the derived trading parameters. An empty Symbol or Expiry means unset.
type Params struct {
	Symbol       string  `json:"symbol" yaml:"symbol"`
	Expiry       string  `json:"expiry" yaml:"expiry"`
	ContractSize int     `json:"contractSize" yaml:"contract_size"`
	Volatility   float64 `json:"volatility" yaml:"volatility"`
	StrikeRange  int     `json:"strikeRange" yaml:"strike_range"`
}

// DefaultParams returns the parameters a fresh session starts with.
func DefaultParams() Params {
	return Params{
		ContractSize: DefaultContractSize,
		Volatility:   DefaultVolatility,
		StrikeRange:  DefaultStrikeRange,
	}
}

// HasInstrument reports whether both symbol and expiry are set.
func (p Params) HasInstrument() bool {
	return p.Symbol != "" && p.Expiry != ""
}

// Instrument returns the symbol/expiry pair.
func (p Params) Instrument() instrument.Instrument {
	return instrument.Instrument{Symbol: p.Symbol, Expiry: p.Expiry}
}

// Patch is a partial update. Nil fields are left alone.
// User edits are not validated.
type Patch struct {
	Symbol       *string  `json:"symbol,omitempty"`
	Expiry       *string  `json:"expiry,omitempty"`
	ContractSize *int     `json:"contractSize,omitempty"`
	Volatility   *float64 `json:"volatility,omitempty"`
	StrikeRange  *int     `json:"strikeRange,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (p Patch) Empty() bool {
	return p.Symbol == nil && p.Expiry == nil && p.ContractSize == nil && p.Volatility == nil && p.StrikeRange == nil
}

func (p Patch) apply(to Params) Params {
	if p.Symbol != nil {
		to.Symbol = *p.Symbol
	}
	if p.Expiry != nil {
		to.Expiry = *p.Expiry
	}
	if p.ContractSize != nil {
		to.ContractSize = *p.ContractSize
	}
	if p.Volatility != nil {
		to.Volatility = *p.Volatility
	}
	if p.StrikeRange != nil {
		to.StrikeRange = *p.StrikeRange
	}
	return to
}

// Snapshot is a consistent copy of everything the store holds.
type Snapshot struct {
	Params    Params          `json:"params"`
	Streaming bool            `json:"streaming"`
	Visible   map[string]bool `json:"visible"`
}

// Change is published after every mutation that altered the store.
type Change struct {
	Previous Snapshot
	Current  Snapshot
}

// InstrumentChanged reports whether symbol or expiry moved.
func (c Change) InstrumentChanged() bool {
	return c.Previous.Params.Instrument() != c.Current.Params.Instrument()
}

// Store holds the session parameters for the lifetime of the process.
type Store struct {
	mu        sync.RWMutex
	params    Params
	streaming bool
	visible   map[string]bool
	logger    *zap.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Change
}

// NewStore creates a store seeded with params; every series in series starts visible.
func NewStore(params Params, series []string, logger *zap.Logger) *Store {
	visible := make(map[string]bool, len(series))
	for _, name := range series {
		visible[name] = true
	}
	return &Store{
		params:  params,
		visible: visible,
		logger:  logger,
		subs:    make(map[int]chan Change),
	}
}

// Params returns the current parameters.
func (s *Store) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Snapshot returns a deep copy of the store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Update merges a partial patch. Fields absent from the patch keep their prior values.
func (s *Store) Update(p Patch) Params {
	return s.mutate(func() {
		s.params = p.apply(s.params)
	}).Params
}

// ApplyInstrument overwrites symbol and expiry from a parser match.
// Contract size, volatility and strike range are never touched.
func (s *Store) ApplyInstrument(inst instrument.Instrument) Params {
	return s.mutate(func() {
		s.params.Symbol = inst.Symbol
		s.params.Expiry = inst.Expiry
	}).Params
}

// SetStreaming records whether the server-side capture is running.
func (s *Store) SetStreaming(streaming bool) {
	s.mutate(func() {
		s.streaming = streaming
	})
}

// SetSeriesVisible toggles a chart series. Unknown names are added.
func (s *Store) SetSeriesVisible(name string, visible bool) {
	s.mutate(func() {
		s.visible[name] = visible
	})
}

// SeriesNames returns every series the store has a toggle for, sorted.
func (s *Store) SeriesNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.visible))
	for name := range s.visible {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe returns a channel of changes. Slow consumers lose events, so a
// consumer should treat an event as "re-read the snapshot" rather than a diff log.
func (s *Store) Subscribe(bufSize int) (int, <-chan Change) {
	ch := make(chan Change, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// mutate runs fn under the write lock and publishes a Change if state moved.
func (s *Store) mutate(fn func()) Snapshot {
	s.mu.Lock()
	prev := s.snapshotLocked()
	fn()
	cur := s.snapshotLocked()
	s.mu.Unlock()

	if !equalSnapshots(prev, cur) {
		s.logger.Debug("session updated",
			zap.String("symbol", cur.Params.Symbol),
			zap.String("expiry", cur.Params.Expiry),
			zap.Int("contractSize", cur.Params.ContractSize),
			zap.Float64("volatility", cur.Params.Volatility),
			zap.Int("strikeRange", cur.Params.StrikeRange),
			zap.Bool("streaming", cur.Streaming),
		)
		s.broadcast(Change{Previous: prev, Current: cur})
	}
	return cur
}

func (s *Store) broadcast(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			// Slow consumer, drop.
		}
	}
}

// snapshotLocked must be called with mu held.
func (s *Store) snapshotLocked() Snapshot {
	visible := make(map[string]bool, len(s.visible))
	for k, v := range s.visible {
		visible[k] = v
	}
	return Snapshot{Params: s.params, Streaming: s.streaming, Visible: visible}
}

func equalSnapshots(a, b Snapshot) bool {
	if a.Params != b.Params || a.Streaming != b.Streaming || len(a.Visible) != len(b.Visible) {
		return false
	}
	for k, v := range a.Visible {
		if bv, ok := b.Visible[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
