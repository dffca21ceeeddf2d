package notify

import (
	"fmt"
	"strings"
	"time"
)

// StreamEvent describes a start_stream request.
type StreamEvent struct {
	Symbol       string
	Expiry       string
	StrikeRange  int
	ContractStep int
}

// BatchSummary describes a finished batch compute run.
type BatchSummary struct {
	Total   int
	Success int
	Failed  int
	Errors  []string
}

// FormatStreamMessage creates a stream notification body.
func FormatStreamMessage(ev StreamEvent, err error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Symbol: %s\n", ev.Symbol))
	sb.WriteString(fmt.Sprintf("Expiry: %s\n", ev.Expiry))
	sb.WriteString(fmt.Sprintf("Strike range: %d\n", ev.StrikeRange))
	sb.WriteString(fmt.Sprintf("Contract step: %d", ev.ContractStep))

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}
	return sb.String()
}

// FormatBatchMessage creates a batch compute notification body.
func FormatBatchMessage(s BatchSummary, duration time.Duration) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Total: %d files\n", s.Total))
	sb.WriteString(fmt.Sprintf("Success: %d\n", s.Success))
	sb.WriteString(fmt.Sprintf("Failed: %d\n", s.Failed))
	sb.WriteString(fmt.Sprintf("Duration: %s", duration.Round(time.Second)))

	// Include first 3 error messages if available
	if len(s.Errors) > 0 {
		sb.WriteString("\n\nErrors:\n")
		limit := min(3, len(s.Errors))
		for i := 0; i < limit; i++ {
			sb.WriteString(fmt.Sprintf("- %s\n", s.Errors[i]))
		}
		if len(s.Errors) > 3 {
			sb.WriteString(fmt.Sprintf("... and %d more errors", len(s.Errors)-3))
		}
	}

	return sb.String()
}
