// Package adapter defines the downstream-notification boundary that
// webhook and redis implement. A manager.Notifier wraps one or more
// Adapters so a unit-state transition or emergency-action dispatch can be
// published to an external system without the manager package knowing
// anything about HTTP or Redis.
package adapter

import "context"

// EventType distinguishes the two events an Adapter can receive.
type EventType string

const (
	EventUnitState EventType = "unit_state"
	EventEmergency EventType = "emergency_action"
)

// Event is the payload published on a unit-state transition or an
// emergency-action dispatch. Only the fields relevant to EventType are
// populated: a unit_state event carries OldState/NewState, an
// emergency_action event carries Action.
type Event struct {
	ContractVersion string    `json:"contract_version"`
	EventType       EventType `json:"event_type"`
	Unit            string    `json:"unit"`
	OldState        string    `json:"old_state,omitempty"`
	NewState        string    `json:"new_state,omitempty"`
	Action          string    `json:"action,omitempty"`
	Timestamp       string    `json:"timestamp"`
}

// ContractVersion identifies the Event payload shape published to
// downstream adapters.
const ContractVersion = "1.0.0"

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends an event to the downstream system. Must respect
	// context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}
