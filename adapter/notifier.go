package adapter

import (
	"context"
	"time"

	"github.com/sysmaster-go/sysmaster/log"
	"github.com/sysmaster-go/sysmaster/types"
)

// PublishTimeout bounds a single downstream publish, independent of
// whatever per-request timeout the Adapter itself applies.
const PublishTimeout = 15 * time.Second

// Notifier implements manager.Notifier (structurally, to avoid an
// adapter->manager import) by fanning state-change and emergency-action
// events out to a set of Adapters. Publishing runs in its own goroutine per
// event so a slow or unreachable downstream never blocks the dispatch loop
// that drives unit state transitions.
type Notifier struct {
	adapters []Adapter
	log      *log.Logger
}

// NewNotifier wraps one or more Adapters behind the manager.Notifier shape.
func NewNotifier(l *log.Logger, adapters ...Adapter) *Notifier {
	return &Notifier{adapters: adapters, log: l}
}

// NotifyUnitState publishes a unit_state event for every configured adapter.
func (n *Notifier) NotifyUnitState(unit types.UnitId, old, next types.ActiveState) {
	n.publish(&Event{
		ContractVersion: ContractVersion,
		EventType:       EventUnitState,
		Unit:            string(unit),
		OldState:        old.String(),
		NewState:        next.String(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
}

// NotifyEmergency publishes an emergency_action event for every configured
// adapter.
func (n *Notifier) NotifyEmergency(unit types.UnitId, action types.EmergencyAction) {
	n.publish(&Event{
		ContractVersion: ContractVersion,
		EventType:       EventEmergency,
		Unit:            string(unit),
		Action:          action.String(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) publish(event *Event) {
	for _, a := range n.adapters {
		a := a
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
			defer cancel()
			if err := a.Publish(ctx, event); err != nil && n.log != nil {
				n.log.Warn("adapter publish failed", map[string]any{
					"unit":       event.Unit,
					"event_type": string(event.EventType),
					"error":      err.Error(),
				})
			}
		}()
	}
}

// Close closes every configured adapter, returning the first error
// encountered.
func (n *Notifier) Close() error {
	var first error
	for _, a := range n.adapters {
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
