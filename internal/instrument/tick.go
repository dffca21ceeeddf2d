package instrument

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON keeps every field of the tick in Fields and lifts the identifier out.
func (t *RawTick) UnmarshalJSON(b []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("decoding tick: %w", err)
	}
	t.Fields = fields
	t.InstrumentIdentifier = ""
	if id, ok := fields["InstrumentIdentifier"].(string); ok {
		t.InstrumentIdentifier = id
	}
	return nil
}

// MarshalJSON writes the passthrough fields back out.
func (t RawTick) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Fields)+1)
	for k, v := range t.Fields {
		out[k] = v
	}
	out["InstrumentIdentifier"] = t.InstrumentIdentifier
	return json.Marshal(out)
}
