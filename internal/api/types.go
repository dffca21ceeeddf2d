package api

import (
	"io"
	"strconv"

	"github.com/dgnsrekt/gexlive/internal/instrument"
	"github.com/dgnsrekt/gexlive/internal/viewmodel"
)

// Collaborator endpoint paths.
const (
	PathCompute     = "/compute"
	PathLiveData    = "/live_data"
	PathStartStream = "/start_stream"
	PathRawTicks    = "/raw_ticks"
	PathTrendingGex = "/trending_gex"
	PathExpiryList  = "/gfdl/expiry_list"
)

// DefaultColumnMode is sent when a compute request leaves ColumnMode empty.
const DefaultColumnMode = "keyword"

// StreamRequest is the body of POST /start_stream.
type StreamRequest struct {
	Symbol       string `json:"symbol"`
	Expiry       string `json:"expiry"`
	StrikeRange  int    `json:"strike_range"`
	ContractStep int    `json:"contract_step"`
}

// ComputeRequest is the multipart form of POST /compute.
type ComputeRequest struct {
	File     io.Reader
	FileName string

	Spot         float64
	Volatility   float64
	Strikes      int
	Expiry       float64 // time to expiry in years
	ContractSize int
	ColumnMode   string
}

func (r ComputeRequest) fields() [][2]string {
	mode := r.ColumnMode
	if mode == "" {
		mode = DefaultColumnMode
	}
	return [][2]string{
		{"spot", formatFloat(r.Spot)},
		{"vol", formatFloat(r.Volatility)},
		{"strikes", strconv.Itoa(r.Strikes)},
		{"expiry", formatFloat(r.Expiry)},
		{"contractSize", strconv.Itoa(r.ContractSize)},
		{"columnMode", mode},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type (
	Metrics  = viewmodel.Metrics
	TrendRow = viewmodel.TrendRow
	RawTick  = instrument.RawTick
)
