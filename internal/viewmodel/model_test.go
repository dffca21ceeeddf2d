package viewmodel

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeMetrics(t *testing.T, body string) Metrics {
	t.Helper()
	var m Metrics
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	return m
}

func TestSentiment(t *testing.T) {
	tests := []struct {
		name    string
		summary string
		want    string
	}{
		{"labelled line", "Spot: 24010\nMarket Sentiment: Mildly Bullish\nGamma Wall: 24000", "Mildly Bullish"},
		{"missing", "Spot: 24010\nGamma Wall: 24000", UnknownSentiment},
		{"empty", "", UnknownSentiment},
		{"case insensitive", "SENTIMENT:  Bearish  ", "Bearish"},
		{"first match wins", "Sentiment: Bullish\nsentiment: Bearish", "Bullish"},
		{"first colon only", "Sentiment: Neutral: range bound", "Neutral: range bound"},
		{"no colon", "sentiment unavailable\nSentiment: Bullish", UnknownSentiment},
		{"crlf line endings", "Spot: 24010\r\nSentiment: Bearish\r\n", "Bearish"},
		{"line longer than 64KiB", strings.Repeat("x", 70*1024) + "\nMarket Sentiment: Bullish", "Bullish"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sentiment(tt.summary))
		})
	}
}

func TestMetricsDecodeFiltersElements(t *testing.T) {
	m := decodeMetrics(t, `{
		"summary_text": "Sentiment: Bullish",
		"gamma_wall_strike": 24000,
		"spot": null,
		"rolling_gex_ma": "n/a",
		"gex": [
			{"strike": 23950, "value": 1.5},
			{"strike": 24000, "value": null},
			{"strike": "24050", "value": 2},
			{"Strike Price": 24100, "value": -3.25},
			{"value": 4}
		],
		"net_gex_1pct": []
	}`)

	require.NotNil(t, m.GammaWallStrike)
	assert.Equal(t, 24000.0, *m.GammaWallStrike)
	assert.Nil(t, m.Spot)
	assert.Nil(t, m.RollingGexMa)
	assert.Equal(t, []Point{{Strike: 23950, Value: 1.5}, {Strike: 24100, Value: -3.25}}, m.Series["gex"])
	assert.Empty(t, m.Series["net_gex_1pct"])
	assert.Equal(t, 3, m.Dropped)
	assert.Equal(t, []string{"gex", "net_gex_1pct"}, m.SeriesNames())
}

func TestMetricsDecodeKeepsValidElementsBesideNonObjects(t *testing.T) {
	m := decodeMetrics(t, `{"gex":[{"strike":100,"value":1},{"strike":200,"value":2},5,"bad",null,[1,2]]}`)

	require.Contains(t, m.Series, "gex")
	assert.Equal(t, []Point{{Strike: 100, Value: 1}, {Strike: 200, Value: 2}}, m.Series["gex"])
	assert.Equal(t, 4, m.Dropped)
}

func TestTrendRowDirection(t *testing.T) {
	var rows []TrendRow
	require.NoError(t, json.Unmarshal([]byte(`[
		{"time":"10:00","netGex":1,"newNetGex":2,"deltaGex":1,"direction":"↑"},
		{"time":"10:05","netGex":2,"newNetGex":1,"deltaGex":-1,"direction":"DOWN"},
		{"time":"10:10","netGex":1,"newNetGex":1,"deltaGex":0,"direction":""}
	]`), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, DirectionUp, rows[0].Direction)
	assert.Equal(t, DirectionDown, rows[1].Direction)
	assert.Equal(t, DirectionFlat, rows[2].Direction)
}

func TestApplyMetricsLastWriteWins(t *testing.T) {
	r1 := decodeMetrics(t, `{"summary_text":"Sentiment: Bearish","spot":24000,"gex":[{"strike":1,"value":1}],"dealer_delta":[{"strike":2,"value":2}]}`)
	r2 := decodeMetrics(t, `{"summary_text":"Sentiment: Bullish","gex":[{"strike":3,"value":3}]}`)

	both := ApplyMetrics(ApplyMetrics(ViewModel{}, r1), r2)
	alone := ApplyMetrics(ViewModel{}, r2)

	assert.Equal(t, alone.SummaryText, both.SummaryText)
	assert.Equal(t, alone.Series, both.Series)
	assert.Nil(t, both.Spot)
}

func TestApplyMetricsKeepsTrendingRows(t *testing.T) {
	rows := []TrendRow{{Time: "09:55", Direction: DirectionDown}}
	vm := ApplyTrending(ViewModel{}, rows)
	vm = ApplyMetrics(vm, decodeMetrics(t, `{"summary_text":"x"}`))
	assert.Equal(t, rows, vm.TrendingRows)
}

func TestApplyTrendingReplacesRows(t *testing.T) {
	vm := ApplyTrending(ViewModel{}, []TrendRow{{Time: "09:55"}, {Time: "09:50"}})

	var next []TrendRow
	require.NoError(t, json.Unmarshal([]byte(`[{"time":"10:00","netGex":120.5,"newNetGex":130.2,"deltaGex":9.7,"direction":"up"}]`), &next))
	vm = ApplyTrending(vm, next)

	assert.Equal(t, []TrendRow{{
		Time:      "10:00",
		NetGex:    120.5,
		NewNetGex: 130.2,
		DeltaGex:  9.7,
		Direction: DirectionUp,
	}}, vm.TrendingRows)
}

func TestRenderHidesToggledSeries(t *testing.T) {
	vm := ApplyMetrics(ViewModel{}, decodeMetrics(t, `{
		"summary_text":"Market Sentiment: Mildly Bullish",
		"gex":[{"strike":1,"value":1}],
		"dealer_vanna":[{"strike":1,"value":2}]
	}`))

	view := Render(vm, map[string]bool{SeriesGex: false, SeriesDealerVanna: true}, 7)

	assert.NotContains(t, view.Series, SeriesGex)
	assert.Contains(t, view.Series, SeriesDealerVanna)
	assert.Equal(t, "Mildly Bullish", view.Sentiment)
	assert.Equal(t, uint64(7), view.Version)
	assert.Contains(t, vm.Series, SeriesGex, "render must not mutate the model")
}

func TestHolderDiscardsStaleResponses(t *testing.T) {
	h := NewHolder(60, zap.NewNop())

	newer := decodeMetrics(t, `{"summary_text":"Sentiment: Bullish"}`)
	older := decodeMetrics(t, `{"summary_text":"Sentiment: Bearish"}`)

	assert.True(t, h.ApplyQuote(2, newer))
	assert.False(t, h.ApplyQuote(1, older))

	vm, _ := h.Model()
	assert.Equal(t, "Sentiment: Bullish", vm.SummaryText)

	assert.True(t, h.ApplyTrending(5, []TrendRow{{Time: "10:05"}}))
	assert.False(t, h.ApplyTrending(4, []TrendRow{{Time: "10:00"}}))
	vm, _ = h.Model()
	assert.Equal(t, "10:05", vm.TrendingRows[0].Time)
}

func TestHolderComputeIsNotSequenced(t *testing.T) {
	h := NewHolder(60, zap.NewNop())
	require.True(t, h.ApplyQuote(3, decodeMetrics(t, `{"summary_text":"live"}`)))

	h.ApplyCompute(decodeMetrics(t, `{"summary_text":"manual"}`))
	vm, _ := h.Model()
	assert.Equal(t, "manual", vm.SummaryText)

	assert.True(t, h.ApplyQuote(4, decodeMetrics(t, `{"summary_text":"live again"}`)))
}

func TestHolderCountdownWraps(t *testing.T) {
	h := NewHolder(3, zap.NewNop())

	var got []int
	for i := 0; i < 5; i++ {
		got = append(got, h.TickCountdown())
	}
	assert.Equal(t, []int{2, 1, 3, 2, 1}, got)

	h.ResetCountdown()
	vm, _ := h.Model()
	assert.Equal(t, 3, vm.Countdown)
}

func TestHolderStatusClearsOnlyOwnMessage(t *testing.T) {
	h := NewHolder(60, zap.NewNop())

	h.SetStatus("first")
	h.SetStatus("second")
	h.ClearStatus("first")

	vm, _ := h.Model()
	assert.Equal(t, "second", vm.StatusMessage)

	h.ClearStatus("second")
	vm, _ = h.Model()
	assert.Empty(t, vm.StatusMessage)
}

func TestHolderPublishesUpdates(t *testing.T) {
	h := NewHolder(60, zap.NewNop())
	id, ch := h.Subscribe(4)

	h.SetExpiries([]string{"26JUN2025"})
	h.ApplyQuote(1, decodeMetrics(t, `{"summary_text":"x"}`))
	h.ApplyQuote(1, decodeMetrics(t, `{"summary_text":"stale"}`))

	u := <-ch
	assert.Equal(t, uint64(1), u.Version)
	assert.Equal(t, []string{"26JUN2025"}, u.Model.Expiries)

	u = <-ch
	assert.Equal(t, uint64(2), u.Version)
	assert.Equal(t, "x", u.Model.SummaryText)

	select {
	case u := <-ch:
		t.Fatalf("stale response published update %d", u.Version)
	default:
	}

	h.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}
