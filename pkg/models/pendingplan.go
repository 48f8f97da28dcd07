package models

import "encoding/json"

// EncodePendingPlan renders a plan as the metadata value stored under
// MetadataPendingPlan. The JSON round-trip matches what the session row
// yields after a reload, so in-process and reloaded sessions decode the
// same way.
func EncodePendingPlan(p *Plan) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePendingPlan extracts the pending plan from session metadata.
// Returns false when the key is absent or the value does not decode to a
// plan; a malformed value is treated as no pending plan.
func DecodePendingPlan(metadata map[string]any) (*Plan, bool) {
	if metadata == nil {
		return nil, false
	}
	value, ok := metadata[MetadataPendingPlan]
	if !ok || value == nil {
		return nil, false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, false
	}
	if len(plan.Steps) == 0 {
		return nil, false
	}
	return &plan, true
}
