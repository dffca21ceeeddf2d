// Package viewmodel merges poller results into the single render-ready
// snapshot consumed by the presentation layer.
package viewmodel

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Known series names produced by the collaborator.
const (
	SeriesNetGex1Pct     = "net_gex_1pct"
	SeriesDealerDelta    = "dealer_delta"
	SeriesDealerVanna    = "dealer_vanna"
	SeriesGex            = "gex"
	SeriesCumulativeGex  = "cumulative_gex"
	SeriesVegaThetaRatio = "vega_theta_ratio"
)

// KnownSeries lists the series in chart order.
var KnownSeries = []string{
	SeriesNetGex1Pct,
	SeriesDealerDelta,
	SeriesDealerVanna,
	SeriesGex,
	SeriesCumulativeGex,
	SeriesVegaThetaRatio,
}

// Point is one chart element.
type Point struct {
	Strike float64 `json:"strike"`
	Value  float64 `json:"value"`
}

// positionKeys are the keys the collaborator uses for an element's position.
var positionKeys = []string{"strike", "Strike Price"}

// Metrics is the consumed shape of a /live_data or /compute response.
type Metrics struct {
	SummaryText     string             `json:"summary_text"`
	Series          map[string][]Point `json:"series"`
	GammaWallStrike *float64           `json:"gamma_wall_strike,omitempty"`
	RollingGexMa    *float64           `json:"rolling_gex_ma,omitempty"`
	Spot            *float64           `json:"spot,omitempty"`

	// Dropped counts series elements that were filtered out while decoding.
	Dropped int `json:"-"`
}

var metricScalars = map[string]bool{
	"summary_text":      true,
	"gamma_wall_strike": true,
	"rolling_gex_ma":    true,
	"spot":              true,
	"sentiment":         true,
}

// UnmarshalJSON accepts the flat collaborator shape: scalar fields plus one
// top-level array per series. Elements without a numeric position and a
// numeric value are dropped.
func (m *Metrics) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decoding metrics: %w", err)
	}

	*m = Metrics{Series: make(map[string][]Point)}

	if v, ok := raw["summary_text"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			m.SummaryText = s
		}
	}
	m.GammaWallStrike = decodeNumber(raw["gamma_wall_strike"])
	m.RollingGexMa = decodeNumber(raw["rolling_gex_ma"])
	m.Spot = decodeNumber(raw["spot"])

	for name, v := range raw {
		if metricScalars[name] {
			continue
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(v, &elems); err != nil {
			continue // not a series
		}
		points := make([]Point, 0, len(elems))
		for _, rawEl := range elems {
			var el map[string]any
			if err := json.Unmarshal(rawEl, &el); err != nil || el == nil {
				m.Dropped++
				continue
			}
			p, ok := pointFrom(el)
			if !ok {
				m.Dropped++
				continue
			}
			points = append(points, p)
		}
		m.Series[name] = points
	}
	return nil
}

// MarshalJSON writes the flat collaborator shape back out.
func (m Metrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Series)+4)
	for name, pts := range m.Series {
		out[name] = pts
	}
	out["summary_text"] = m.SummaryText
	out["gamma_wall_strike"] = m.GammaWallStrike
	out["rolling_gex_ma"] = m.RollingGexMa
	out["spot"] = m.Spot
	return json.Marshal(out)
}

// SeriesNames returns the decoded series names, sorted.
func (m Metrics) SeriesNames() []string {
	names := make([]string, 0, len(m.Series))
	for name := range m.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func pointFrom(el map[string]any) (Point, bool) {
	var pos float64
	found := false
	for _, k := range positionKeys {
		if f, ok := number(el[k]); ok {
			pos, found = f, true
			break
		}
	}
	if !found {
		return Point{}, false
	}
	val, ok := number(el["value"])
	if !ok {
		return Point{}, false
	}
	return Point{Strike: pos, Value: val}, true
}

func number(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func decodeNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	f, ok := number(v)
	if !ok {
		return nil
	}
	return &f
}

// Direction of a trending row.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// ParseDirection normalizes the collaborator's direction marker.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "↑":
		return DirectionUp
	case "down", "↓":
		return DirectionDown
	default:
		return DirectionFlat
	}
}

// TrendRow is one entry of the trending GEX window.
type TrendRow struct {
	Time      string    `json:"time"`
	NetGex    float64   `json:"netGex"`
	NewNetGex float64   `json:"newNetGex"`
	DeltaGex  float64   `json:"deltaGex"`
	Direction Direction `json:"direction"`
}

// UnmarshalJSON normalizes the direction marker.
func (r *TrendRow) UnmarshalJSON(b []byte) error {
	type alias struct {
		Time      string  `json:"time"`
		NetGex    float64 `json:"netGex"`
		NewNetGex float64 `json:"newNetGex"`
		DeltaGex  float64 `json:"deltaGex"`
		Direction string  `json:"direction"`
	}
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("decoding trend row: %w", err)
	}
	*r = TrendRow{
		Time:      a.Time,
		NetGex:    a.NetGex,
		NewNetGex: a.NewNetGex,
		DeltaGex:  a.DeltaGex,
		Direction: ParseDirection(a.Direction),
	}
	return nil
}
