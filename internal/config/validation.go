package config

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError is one invalid setting.
type FieldError struct {
	Key    string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields           []FieldError
	InvalidContracts []string
}

func (e *ValidationErrors) add(key, reason string) {
	e.Fields = append(e.Fields, FieldError{Key: key, Reason: reason})
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0 || len(e.InvalidContracts) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.Fields) > 0 {
		fields := append([]FieldError(nil), e.Fields...)
		sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
		sb.WriteString("\nInvalid settings:\n")
		for _, f := range fields {
			sb.WriteString(fmt.Sprintf("  - %s %s\n", f.Key, f.Reason))
		}
	}

	if len(e.InvalidContracts) > 0 {
		symbols := append([]string(nil), e.InvalidContracts...)
		sort.Strings(symbols)
		sb.WriteString("\nInvalid contracts (contract_size and step must be positive):\n")
		for _, s := range symbols {
			sb.WriteString(fmt.Sprintf("  - %s\n", s))
		}
	}

	return sb.String()
}
