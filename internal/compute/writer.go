package compute

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/gexlive/internal/viewmodel"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Record is the stored form of one compute result.
type Record struct {
	BatchID         string                       `json:"batchId" yaml:"batch_id"`
	Source          string                       `json:"source" yaml:"source"`
	ComputedAt      time.Time                    `json:"computedAt" yaml:"computed_at"`
	Sentiment       string                       `json:"sentiment" yaml:"sentiment"`
	SummaryText     string                       `json:"summaryText" yaml:"summary_text"`
	Spot            *float64                     `json:"spot,omitempty" yaml:"spot,omitempty"`
	GammaWallStrike *float64                     `json:"gammaWallStrike,omitempty" yaml:"gamma_wall_strike,omitempty"`
	RollingGexMa    *float64                     `json:"rollingGexMa,omitempty" yaml:"rolling_gex_ma,omitempty"`
	Series          map[string][]viewmodel.Point `json:"series" yaml:"series"`
	Dropped         int                          `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

// NewRecord builds a record from a collaborator response.
func NewRecord(batchID, source string, at time.Time, m viewmodel.Metrics) Record {
	return Record{
		BatchID:         batchID,
		Source:          source,
		ComputedAt:      at.UTC(),
		Sentiment:       viewmodel.Sentiment(m.SummaryText),
		SummaryText:     m.SummaryText,
		Spot:            m.Spot,
		GammaWallStrike: m.GammaWallStrike,
		RollingGexMa:    m.RollingGexMa,
		Series:          m.Series,
		Dropped:         m.Dropped,
	}
}

// Marshal encodes a record in format.
func (r Record) Marshal(format string) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(r)
	case FormatJSON, "":
		return json.MarshalIndent(r, "", "  ")
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// WriteAtomic writes data to destPath through a .tmp file and a rename, so a
// reader never sees a partial result.
func WriteAtomic(destPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	_, err = f.Write(data)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
