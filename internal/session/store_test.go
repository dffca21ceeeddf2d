package session

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/instrument"
)

func ptr[T any](v T) *T { return &v }

func newTestStore() *Store {
	return NewStore(DefaultParams(), []string{"gex", "net_gex_1pct"}, zap.NewNop())
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Empty(t, p.Symbol)
	assert.Empty(t, p.Expiry)
	assert.Equal(t, 75, p.ContractSize)
	assert.Equal(t, 0.15, p.Volatility)
	assert.Equal(t, 5, p.StrikeRange)
	assert.False(t, p.HasInstrument())
}

func TestUpdate_PartialMerge(t *testing.T) {
	s := newTestStore()

	s.Update(Patch{Symbol: ptr("NIFTY"), Volatility: ptr(0.2)})
	p := s.Update(Patch{StrikeRange: ptr(12)})

	assert.Equal(t, "NIFTY", p.Symbol)
	assert.Equal(t, 0.2, p.Volatility)
	assert.Equal(t, 12, p.StrikeRange)
	assert.Equal(t, 75, p.ContractSize)
	assert.Empty(t, p.Expiry)
}

func TestUpdate_RandomPatchesNeverClearOmittedFields(t *testing.T) {
	s := newTestStore()
	s.Update(Patch{Symbol: ptr("NIFTY"), Expiry: ptr("26JUN2025")})
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		before := s.Params()
		var p Patch
		if rng.Intn(2) == 0 {
			p.Symbol = ptr([]string{"NIFTY", "BANKNIFTY", "SBIN"}[rng.Intn(3)])
		}
		if rng.Intn(2) == 0 {
			p.Expiry = ptr([]string{"26JUN2025", "03JUL2025"}[rng.Intn(2)])
		}
		if rng.Intn(2) == 0 {
			p.ContractSize = ptr(1 + rng.Intn(100))
		}
		if rng.Intn(2) == 0 {
			p.Volatility = ptr(rng.Float64())
		}
		if rng.Intn(2) == 0 {
			p.StrikeRange = ptr(1 + rng.Intn(20))
		}
		after := s.Update(p)

		if p.Symbol == nil {
			require.Equal(t, before.Symbol, after.Symbol)
		}
		if p.Expiry == nil {
			require.Equal(t, before.Expiry, after.Expiry)
		}
		if p.ContractSize == nil {
			require.Equal(t, before.ContractSize, after.ContractSize)
		}
		if p.Volatility == nil {
			require.Equal(t, before.Volatility, after.Volatility)
		}
		if p.StrikeRange == nil {
			require.Equal(t, before.StrikeRange, after.StrikeRange)
		}
		require.NotEmpty(t, after.Symbol)
		require.NotEmpty(t, after.Expiry)
	}
}

func TestApplyInstrument_OnlyTouchesSymbolAndExpiry(t *testing.T) {
	s := newTestStore()
	s.Update(Patch{ContractSize: ptr(30), Volatility: ptr(0.22), StrikeRange: ptr(9)})

	p := s.ApplyInstrument(instrument.Instrument{Symbol: "BANKNIFTY", Expiry: "03JUL2025"})

	assert.Equal(t, "BANKNIFTY", p.Symbol)
	assert.Equal(t, "03JUL2025", p.Expiry)
	assert.Equal(t, 30, p.ContractSize)
	assert.Equal(t, 0.22, p.Volatility)
	assert.Equal(t, 9, p.StrikeRange)
	assert.True(t, p.HasInstrument())
}

func TestSubscribe_PublishesOnlyRealChanges(t *testing.T) {
	s := newTestStore()
	id, ch := s.Subscribe(4)
	defer s.Unsubscribe(id)

	s.ApplyInstrument(instrument.Instrument{Symbol: "NIFTY", Expiry: "26JUN2025"})
	require.Len(t, ch, 1)
	c := <-ch
	assert.True(t, c.InstrumentChanged())
	assert.Equal(t, "NIFTY", c.Current.Params.Symbol)

	// Same instrument again: nothing moves, nothing published.
	s.ApplyInstrument(instrument.Instrument{Symbol: "NIFTY", Expiry: "26JUN2025"})
	assert.Len(t, ch, 0)

	s.SetStreaming(true)
	require.Len(t, ch, 1)
	c = <-ch
	assert.False(t, c.InstrumentChanged())
	assert.True(t, c.Current.Streaming)
}

func TestSubscribe_SlowConsumerDoesNotBlock(t *testing.T) {
	s := newTestStore()
	id, ch := s.Subscribe(1)

	for i := 1; i <= 10; i++ {
		s.Update(Patch{StrikeRange: ptr(i)})
	}
	assert.Len(t, ch, 1)

	s.Unsubscribe(id)
	for range ch {
	}
}

func TestSeriesVisibility(t *testing.T) {
	s := newTestStore()
	snap := s.Snapshot()
	assert.True(t, snap.Visible["gex"])

	s.SetSeriesVisible("gex", false)
	s.SetSeriesVisible("dealer_vanna", false)

	snap = s.Snapshot()
	assert.False(t, snap.Visible["gex"])
	assert.False(t, snap.Visible["dealer_vanna"])
	assert.True(t, snap.Visible["net_gex_1pct"])
	assert.Equal(t, []string{"dealer_vanna", "gex", "net_gex_1pct"}, s.SeriesNames())

	// Snapshots are copies.
	snap.Visible["gex"] = true
	assert.False(t, s.Snapshot().Visible["gex"])
}

func TestPatchEmpty(t *testing.T) {
	assert.True(t, Patch{}.Empty())
	assert.False(t, Patch{Volatility: ptr(0.1)}.Empty())
}
