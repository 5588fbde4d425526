// Package assessment defines the rapid-assessment draft model and the
// per-type field rules that the gap analysis derives from.
package assessment

import "time"

// Type identifies the assessment category.
type Type string

const (
	TypeHealth     Type = "health"
	TypePopulation Type = "population"
	TypeFood       Type = "food"
	TypeWASH       Type = "wash"
	TypeShelter    Type = "shelter"
	TypeSecurity   Type = "security"
)

// Types lists all assessment categories in report order.
func Types() []Type {
	return []Type{TypeHealth, TypePopulation, TypeFood, TypeWASH, TypeShelter, TypeSecurity}
}

// Valid reports whether t names a known assessment category.
func (t Type) Valid() bool {
	switch t {
	case TypeHealth, TypePopulation, TypeFood, TypeWASH, TypeShelter, TypeSecurity:
		return true
	}
	return false
}

// SyncStatus tracks a draft through its sync lifecycle.
type SyncStatus string

const (
	StatusDraft   SyncStatus = "draft"
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusError   SyncStatus = "error"
)

// Draft is an in-progress assessment owned by the local store. Payload holds
// the type-specific form fields; required service booleans in it drive the
// gap analysis.
type Draft struct {
	ID              string         `json:"id"`
	Type            Type           `json:"type"`
	EntityID        string         `json:"entity_id"`
	Payload         map[string]any `json:"payload"`
	SyncStatus      SyncStatus     `json:"sync_status"`
	SyncAttempts    int            `json:"sync_attempts"`
	LastSyncAttempt time.Time      `json:"last_sync_attempt,omitempty"`
	SyncError       string         `json:"sync_error,omitempty"`
	Modified        bool           `json:"modified"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// requiredFields lists the service booleans each assessment type must answer.
// A false (or absent) value is counted as a gap.
var requiredFields = map[Type][]string{
	TypeHealth:     {"has-emergency-services", "has-medical-supplies", "has-qualified-staff"},
	TypePopulation: {"has-registration-records", "has-headcount-verified", "has-vulnerable-list"},
	TypeFood:       {"has-food-stock", "has-distribution-point", "has-infant-nutrition"},
	TypeWASH:       {"has-clean-water", "has-latrines", "has-hygiene-supplies"},
	TypeShelter:    {"has-adequate-shelter", "has-weather-protection", "has-privacy-partitions"},
	TypeSecurity:   {"has-security-presence", "has-lighting", "has-safe-spaces"},
}

// RequiredFields returns the required boolean field names for the type.
func RequiredFields(t Type) []string {
	fields := requiredFields[t]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// DefaultPayload returns the type-specific sub-object a new draft starts
// with: every required field present and unchecked, plus a notes field.
func DefaultPayload(t Type) map[string]any {
	payload := make(map[string]any, len(requiredFields[t])+1)
	for _, field := range requiredFields[t] {
		payload[field] = false
	}
	payload["notes"] = ""
	return payload
}

// GapCount returns the number of required fields of the draft's type that
// are false or missing in its payload.
func (d Draft) GapCount() int {
	gaps := 0
	for _, field := range requiredFields[d.Type] {
		if !boolField(d.Payload, field) {
			gaps++
		}
	}
	return gaps
}

// MissingFields returns the required fields that are false or missing.
func (d Draft) MissingFields() []string {
	var missing []string
	for _, field := range requiredFields[d.Type] {
		if !boolField(d.Payload, field) {
			missing = append(missing, field)
		}
	}
	return missing
}

func boolField(payload map[string]any, field string) bool {
	v, ok := payload[field]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ClonePayload deep-copies a payload map one level down. Nested maps are
// copied as well so callers can mutate the result freely.
func ClonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if nested, ok := v.(map[string]any); ok {
			out[k] = ClonePayload(nested)
			continue
		}
		out[k] = v
	}
	return out
}
