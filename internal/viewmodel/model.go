package viewmodel

import "strings"

// UnknownSentiment is reported when the summary has no sentiment line.
const UnknownSentiment = "Unknown"

// ViewModel is derived entirely from the latest successful poller responses.
// Stale fields are kept until a newer successful response overwrites them.
type ViewModel struct {
	SummaryText     string             `json:"summaryText"`
	Series          map[string][]Point `json:"series"`
	GammaWallStrike *float64           `json:"gammaWallStrike,omitempty"`
	Spot            *float64           `json:"spot,omitempty"`
	RollingGexMa    *float64           `json:"rollingGexMa,omitempty"`
	TrendingRows    []TrendRow         `json:"trendingRows"`

	Countdown     int      `json:"countdown"`
	Expiries      []string `json:"expiries,omitempty"`
	StatusMessage string   `json:"statusMessage,omitempty"`
}

// ApplyMetrics merges a quote snapshot (or manual compute result). Every field
// the quote poller owns is overwritten, including ones the response left empty.
func ApplyMetrics(vm ViewModel, m Metrics) ViewModel {
	vm.SummaryText = m.SummaryText
	vm.Series = cloneSeries(m.Series)
	vm.GammaWallStrike = cloneFloat(m.GammaWallStrike)
	vm.Spot = cloneFloat(m.Spot)
	vm.RollingGexMa = cloneFloat(m.RollingGexMa)
	return vm
}

// ApplyTrending replaces the trending rows wholesale.
func ApplyTrending(vm ViewModel, rows []TrendRow) ViewModel {
	vm.TrendingRows = append([]TrendRow(nil), rows...)
	return vm
}

// Sentiment returns the text after the first colon of the first summary line
// mentioning "sentiment" (case-insensitive).
func Sentiment(summary string) string {
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.Contains(strings.ToLower(line), "sentiment") {
			continue
		}
		_, after, ok := strings.Cut(line, ":")
		if !ok {
			return UnknownSentiment
		}
		if s := strings.TrimSpace(after); s != "" {
			return s
		}
		return UnknownSentiment
	}
	return UnknownSentiment
}

// View is the rendered form of a ViewModel for a given set of toggles.
type View struct {
	ViewModel
	Sentiment string `json:"sentiment"`
	Version   uint64 `json:"version"`
}

// Render applies series visibility and computes derived display values.
// Series absent from visible are shown.
func Render(vm ViewModel, visible map[string]bool, version uint64) View {
	out := vm
	out.Series = make(map[string][]Point, len(vm.Series))
	for name, pts := range vm.Series {
		if v, ok := visible[name]; ok && !v {
			continue
		}
		out.Series[name] = append([]Point(nil), pts...)
	}
	out.TrendingRows = append([]TrendRow(nil), vm.TrendingRows...)
	out.Expiries = append([]string(nil), vm.Expiries...)
	return View{
		ViewModel: out,
		Sentiment: Sentiment(vm.SummaryText),
		Version:   version,
	}
}

func cloneSeries(in map[string][]Point) map[string][]Point {
	out := make(map[string][]Point, len(in))
	for name, pts := range in {
		out[name] = append([]Point(nil), pts...)
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
