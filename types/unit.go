// Package types defines the shared data model for units, jobs, dependency
// relations, and execution parameters. It has no internal dependencies.
package types

import (
	"fmt"
	"strings"
)

// UnitType identifies the suffix-derived kind of a unit.
type UnitType string

// Built-in unit types. Unknown suffixes are rejected by ParseUnitId.
const (
	UnitTypeService UnitType = "service"
	UnitTypeSocket  UnitType = "socket"
	UnitTypeTarget  UnitType = "target"
	UnitTypeMount   UnitType = "mount"
)

var suffixToType = map[string]UnitType{
	"service": UnitTypeService,
	"socket":  UnitTypeSocket,
	"target":  UnitTypeTarget,
	"mount":   UnitTypeMount,
}

// UnitId is a unit's name, e.g. "foo.service". Identity is (type, id): the
// suffix determines the type, so two units with the same string never
// collide with different types.
type UnitId string

// Stem returns the part before the final ".suffix".
func (u UnitId) Stem() string {
	s := string(u)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Type resolves the UnitType encoded in the id's suffix.
func (u UnitId) Type() (UnitType, error) {
	s := string(u)
	i := strings.LastIndexByte(s, '.')
	if i < 0 || i == len(s)-1 {
		return "", fmt.Errorf("unit id %q has no type suffix", s)
	}
	t, ok := suffixToType[s[i+1:]]
	if !ok {
		return "", fmt.Errorf("unit id %q has unknown type suffix %q", s, s[i+1:])
	}
	return t, nil
}

// ParseUnitId validates a raw string as a UnitId and resolves its type.
func ParseUnitId(raw string) (UnitId, UnitType, error) {
	id := UnitId(raw)
	t, err := id.Type()
	if err != nil {
		return "", "", err
	}
	return id, t, nil
}

// LoadState is the result of resolving and parsing a unit's fragment.
type LoadState int

const (
	LoadStateStub LoadState = iota
	LoadStateLoaded
	LoadStateNotFound
	LoadStateError
	LoadStateMerged
	LoadStateBadSetting
	LoadStateMasked
)

func (s LoadState) String() string {
	switch s {
	case LoadStateStub:
		return "stub"
	case LoadStateLoaded:
		return "loaded"
	case LoadStateNotFound:
		return "not-found"
	case LoadStateError:
		return "error"
	case LoadStateMerged:
		return "merged"
	case LoadStateBadSetting:
		return "bad-setting"
	case LoadStateMasked:
		return "masked"
	default:
		return "unknown"
	}
}

// ActiveState is the runtime lifecycle state of a unit.
type ActiveState int

const (
	ActiveStateInactive ActiveState = iota
	ActiveStateActivating
	ActiveStateActive
	ActiveStateReloading
	ActiveStateDeactivating
	ActiveStateFailed
	ActiveStateMaintenance
)

func (s ActiveState) String() string {
	switch s {
	case ActiveStateInactive:
		return "inactive"
	case ActiveStateActivating:
		return "activating"
	case ActiveStateActive:
		return "active"
	case ActiveStateReloading:
		return "reloading"
	case ActiveStateDeactivating:
		return "deactivating"
	case ActiveStateFailed:
		return "failed"
	case ActiveStateMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// IsInactiveLike reports whether the state counts as "not running" for
// EAlready-style precondition checks (Inactive or Failed).
func (s ActiveState) IsInactiveLike() bool {
	return s == ActiveStateInactive || s == ActiveStateFailed
}

// IsActiveLike reports whether the state counts as "already up" (Active or
// Reloading) for EAlready-style precondition checks.
func (s ActiveState) IsActiveLike() bool {
	return s == ActiveStateActive || s == ActiveStateReloading
}

// EmergencyAction is a side effect taken on Failed/StartLimitHit/JobTimeout.
type EmergencyAction int

const (
	EmergencyActionNone EmergencyAction = iota
	EmergencyActionReboot
	EmergencyActionPoweroff
	EmergencyActionExit
	EmergencyActionRebootForce
	EmergencyActionPoweroffForce
	EmergencyActionExitForce
	EmergencyActionRebootImmediate
	EmergencyActionPoweroffImmediate
)

func (a EmergencyAction) String() string {
	switch a {
	case EmergencyActionNone:
		return "none"
	case EmergencyActionReboot:
		return "reboot"
	case EmergencyActionPoweroff:
		return "poweroff"
	case EmergencyActionExit:
		return "exit"
	case EmergencyActionRebootForce:
		return "reboot-force"
	case EmergencyActionPoweroffForce:
		return "poweroff-force"
	case EmergencyActionExitForce:
		return "exit-force"
	case EmergencyActionRebootImmediate:
		return "reboot-immediate"
	case EmergencyActionPoweroffImmediate:
		return "poweroff-immediate"
	default:
		return "unknown"
	}
}

// EmergencyActions groups the four emergency action slots a unit may declare.
type EmergencyActions struct {
	Success     EmergencyAction
	Failure     EmergencyAction
	StartLimit  EmergencyAction
	JobTimeout  EmergencyAction
}

// Condition is a single named precondition; it never fails the unit load,
// only the start attempt (EInval) when it evaluates false.
type Condition struct {
	Name    string
	Negate  bool
	Satisfy func() (bool, error)
}

// Assert behaves like Condition but a false evaluation is a harder failure
// (still mapped to EInval per spec, but recorded distinctly for status).
type Assert struct {
	Name    string
	Negate  bool
	Satisfy func() (bool, error)
}

// Evaluate runs every condition/assert in order, short-circuiting on the
// first false result (after applying Negate).
func Evaluate(conds []Condition) (bool, string, error) {
	for _, c := range conds {
		ok, err := c.Satisfy()
		if err != nil {
			return false, c.Name, err
		}
		if c.Negate {
			ok = !ok
		}
		if !ok {
			return false, c.Name, nil
		}
	}
	return true, "", nil
}

// EvaluateAsserts runs assertions the same way conditions are evaluated.
func EvaluateAsserts(asserts []Assert) (bool, string, error) {
	for _, a := range asserts {
		ok, err := a.Satisfy()
		if err != nil {
			return false, a.Name, err
		}
		if a.Negate {
			ok = !ok
		}
		if !ok {
			return false, a.Name, nil
		}
	}
	return true, "", nil
}
