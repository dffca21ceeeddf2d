// Package compute runs manual GEX computations for many spreadsheets through
// a worker pool and stores each result atomically.
package compute

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Params are the form fields sent with every file.
type Params struct {
	Spot         float64
	Volatility   float64
	Strikes      int
	Expiry       float64 // time to expiry in years
	ContractSize int
	ColumnMode   string
}

type Task struct {
	Path   string
	Params Params
}

// OutputPath is the result location for format ("json" or "yaml") under baseDir.
func (t Task) OutputPath(baseDir, format string) string {
	base := filepath.Base(t.Path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(baseDir, name+"."+format)
}

func (t Task) String() string {
	return fmt.Sprintf("%s@%g", filepath.Base(t.Path), t.Params.Spot)
}

type TaskResult struct {
	Task       Task
	OutputPath string
	Success    bool
	Skipped    bool
	Error      error
}
