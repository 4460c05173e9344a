package validator

import (
	"encoding/json"
	"fmt"
)

// Delta is a validated per-resource event extracted from a stream envelope
type Delta struct {
	ResourceID   string
	ResourceType string
	Payload      map[string]any
	Raw          json.RawMessage
}

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// Validator checks stream deltas before they reach the store
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDelta decodes one delta of an envelope. The resource type falls
// back to the envelope type; deltas without an id are rejected.
func (v *Validator) ValidateDelta(raw json.RawMessage, envelopeType string) (Delta, ValidationResult) {
	result := ValidationResult{IsValid: true}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		result.IsValid = false
		result.Reason = fmt.Sprintf("invalid delta object: %v", err)
		return Delta{}, result
	}
	if payload == nil {
		result.IsValid = false
		result.Reason = "null delta"
		return Delta{}, result
	}

	rid, _ := payload["id"].(string)
	if rid == "" {
		result.IsValid = false
		result.Reason = "missing resource id"
		return Delta{}, result
	}

	rtype, _ := payload["type"].(string)
	if rtype == "" {
		rtype = envelopeType
	}

	return Delta{
		ResourceID:   rid,
		ResourceType: rtype,
		Payload:      payload,
		Raw:          raw,
	}, result
}
