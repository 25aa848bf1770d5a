// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Lifecycle event types. They drive the match state machine and carry no
// player; rulesets may still score them.
const (
	EventMatchStart = "MATCH_START"
	EventMatchEnd   = "MATCH_END"
)

// Validation bounds.
const (
	MaxMinute        = 200
	maxIDLength      = 128
	maxMetadataKeys  = 32
	maxMetadataValue = 512
)

// CanonicalEvent is the provider-independent representation of a sporting
// occurrence. It is immutable once accepted into a match ledger.
type CanonicalEvent struct {
	EventID        string            `json:"event_id"`
	MatchID        string            `json:"match_id"`
	PlayerID       string            `json:"player_id,omitempty"`
	SportID        string            `json:"sport_id"`
	EventType      string            `json:"event_type"`
	Timestamp      time.Time         `json:"timestamp"`
	Minute         int               `json:"minute"`
	ProviderID     string            `json:"provider_id"`
	SequenceNumber int64             `json:"sequence_number"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IdempotencyKey returns the (providerId, eventId) key used by the dedupe window.
func (e CanonicalEvent) IdempotencyKey() string {
	return e.ProviderID + "/" + e.EventID
}

// FactKey groups events that may describe the same real-world occurrence
// across providers. Minute proximity is checked separately.
func (e CanonicalEvent) FactKey() string {
	return e.MatchID + "|" + e.PlayerID + "|" + e.EventType
}

// IsLifecycle reports whether the event drives match state rather than a player.
func (e CanonicalEvent) IsLifecycle() bool {
	return e.EventType == EventMatchStart || e.EventType == EventMatchEnd
}

// Normalize returns a copy with NFC-normalized, trimmed identifiers, an
// upper-case event type, a UTC timestamp and no provider-assigned sequence.
func (e CanonicalEvent) Normalize() CanonicalEvent {
	clean := func(s string) string { return norm.NFC.String(strings.TrimSpace(s)) }
	out := e
	out.EventID = clean(e.EventID)
	out.MatchID = clean(e.MatchID)
	out.PlayerID = clean(e.PlayerID)
	out.SportID = strings.ToLower(clean(e.SportID))
	out.EventType = strings.ToUpper(clean(e.EventType))
	out.ProviderID = clean(e.ProviderID)
	out.Timestamp = e.Timestamp.UTC()
	out.SequenceNumber = 0
	if len(e.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[clean(k)] = norm.NFC.String(v)
		}
	}
	return out
}

// Validate checks required fields and value ranges.
func (e CanonicalEvent) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"event_id", e.EventID},
		{"match_id", e.MatchID},
		{"sport_id", e.SportID},
		{"event_type", e.EventType},
		{"provider_id", e.ProviderID},
	}
	for _, r := range required {
		if r.value == "" {
			return &InvalidEventError{Field: r.field, Reason: "required"}
		}
		if len(r.value) > maxIDLength {
			return &InvalidEventError{Field: r.field, Reason: fmt.Sprintf("longer than %d bytes", maxIDLength)}
		}
	}
	if strings.Contains(e.ProviderID, "/") {
		return &InvalidEventError{Field: "provider_id", Reason: "must not contain '/'"}
	}
	if e.PlayerID == "" && !e.IsLifecycle() {
		return &InvalidEventError{Field: "player_id", Reason: "required"}
	}
	if e.Timestamp.IsZero() {
		return &InvalidEventError{Field: "timestamp", Reason: "required"}
	}
	if e.Minute < 0 || e.Minute > MaxMinute {
		return &InvalidEventError{Field: "minute", Reason: fmt.Sprintf("must be within [0, %d]", MaxMinute)}
	}
	if len(e.Metadata) > maxMetadataKeys {
		return &InvalidEventError{Field: "metadata", Reason: fmt.Sprintf("more than %d keys", maxMetadataKeys)}
	}
	for k, v := range e.Metadata {
		if k == "" {
			return &InvalidEventError{Field: "metadata", Reason: "empty key"}
		}
		if len(v) > maxMetadataValue {
			return &InvalidEventError{Field: "metadata." + k, Reason: "value too long"}
		}
	}
	return nil
}
