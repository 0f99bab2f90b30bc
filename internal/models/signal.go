package models

import "time"

// Signal is a normalized external event a source adapter hands to the
// ingestor. Origin and Topic identify where it came from; Content is the
// free-form body the fingerprint is computed over.
type Signal struct {
	Origin     string                 `json:"origin"`
	Topic      string                 `json:"topic"`
	Timestamp  time.Time              `json:"timestamp"`
	Content    string                 `json:"content"`
	ActionType string                 `json:"action_type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// RiskFactors are the boolean inputs to the approval risk score.
type RiskFactors struct {
	ExternalRecipient  bool `json:"external_recipient"`
	Irreversible       bool `json:"irreversible"`
	DataLossPotential  bool `json:"data_loss_potential"`
	ContainsPII        bool `json:"contains_pii"`
	HasCost            bool `json:"has_cost"`
	PublicVisibility   bool `json:"public_visibility"`
	ReputationalImpact bool `json:"reputational_impact"`
}

// RiskFactorsFromPayload lifts the boolean risk flags a source watcher set
// on the signal payload. Absent keys default to false; "reversible" is
// honored as the negation of irreversible.
func RiskFactorsFromPayload(payload map[string]interface{}) RiskFactors {
	flag := func(key string) bool {
		v, ok := payload[key].(bool)
		return ok && v
	}

	factors := RiskFactors{
		ExternalRecipient:  flag("external_recipient"),
		Irreversible:       flag("irreversible"),
		DataLossPotential:  flag("data_loss_potential"),
		ContainsPII:        flag("contains_pii"),
		HasCost:            flag("has_cost"),
		PublicVisibility:   flag("public_visibility"),
		ReputationalImpact: flag("reputational_impact"),
	}
	if v, ok := payload["reversible"].(bool); ok && !v {
		factors.Irreversible = true
	}
	return factors
}
