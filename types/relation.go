package types

// UnitRelation labels a dependency edge between two units.
type UnitRelation int

const (
	UnitAfter UnitRelation = iota
	UnitBefore
	UnitRequires
	UnitRequiredBy
	UnitWants
	UnitWantedBy
	UnitRequisite
	UnitRequisiteOf
	UnitBindsTo
	UnitBoundBy
	UnitPartOf
	UnitConsistsOf
	UnitConflicts
	UnitConflictedBy
	UnitTriggers
	UnitTriggeredBy
	UnitPropagatesReloadTo
	UnitReloadPropagatedFrom
	UnitJoinsNamespaceOf
)

// inverse maps every relation to its declared inverse. Inserting an edge
// must atomically insert its inverse.
var inverse = map[UnitRelation]UnitRelation{
	UnitAfter:                 UnitBefore,
	UnitBefore:                UnitAfter,
	UnitRequires:              UnitRequiredBy,
	UnitRequiredBy:            UnitRequires,
	UnitWants:                 UnitWantedBy,
	UnitWantedBy:              UnitWants,
	UnitRequisite:             UnitRequisiteOf,
	UnitRequisiteOf:           UnitRequisite,
	UnitBindsTo:               UnitBoundBy,
	UnitBoundBy:               UnitBindsTo,
	UnitPartOf:                UnitConsistsOf,
	UnitConsistsOf:            UnitPartOf,
	UnitConflicts:             UnitConflictedBy,
	UnitConflictedBy:          UnitConflicts,
	UnitTriggers:              UnitTriggeredBy,
	UnitTriggeredBy:           UnitTriggers,
	UnitPropagatesReloadTo:    UnitReloadPropagatedFrom,
	UnitReloadPropagatedFrom:  UnitPropagatesReloadTo,
	UnitJoinsNamespaceOf:      UnitJoinsNamespaceOf,
}

// Inverse returns the declared inverse of r. Every relation has one.
func (r UnitRelation) Inverse() UnitRelation {
	return inverse[r]
}

// IsOrdering reports whether r is an ordering relation (After/Before).
// Only ordering relations are checked for cycles by unitdb.
func (r UnitRelation) IsOrdering() bool {
	return r == UnitAfter || r == UnitBefore
}

func (r UnitRelation) String() string {
	switch r {
	case UnitAfter:
		return "After"
	case UnitBefore:
		return "Before"
	case UnitRequires:
		return "Requires"
	case UnitRequiredBy:
		return "RequiredBy"
	case UnitWants:
		return "Wants"
	case UnitWantedBy:
		return "WantedBy"
	case UnitRequisite:
		return "Requisite"
	case UnitRequisiteOf:
		return "RequisiteOf"
	case UnitBindsTo:
		return "BindsTo"
	case UnitBoundBy:
		return "BoundBy"
	case UnitPartOf:
		return "PartOf"
	case UnitConsistsOf:
		return "ConsistsOf"
	case UnitConflicts:
		return "Conflicts"
	case UnitConflictedBy:
		return "ConflictedBy"
	case UnitTriggers:
		return "Triggers"
	case UnitTriggeredBy:
		return "TriggeredBy"
	case UnitPropagatesReloadTo:
		return "PropagatesReloadTo"
	case UnitReloadPropagatedFrom:
		return "ReloadPropagatedFrom"
	case UnitJoinsNamespaceOf:
		return "JoinsNamespaceOf"
	default:
		return "unknown"
	}
}

// UnitAtom is a derived predicate over the relation multigraph. Sub-units
// query the graph only through atoms, never raw relations.
type UnitAtom int

const (
	UnitAtomPullInStart UnitAtom = iota
	UnitAtomPullInStop
	UnitAtomPropagateStop
	UnitAtomPropagateRestart
	UnitAtomBefore
	UnitAtomAfter
	UnitAtomTriggers
	UnitAtomTriggeredBy
	UnitAtomAddDefaultTargetDependencyQueue
	UnitAtomJoinsNamespaceOf
)

// atomRelations maps each atom to the set of relations it aggregates.
var atomRelations = map[UnitAtom][]UnitRelation{
	UnitAtomPullInStart:                     {UnitRequires, UnitWants, UnitBindsTo},
	UnitAtomPullInStop:                      {UnitConflicts},
	UnitAtomPropagateStop:                   {UnitRequiredBy, UnitBoundBy},
	UnitAtomPropagateRestart:                {UnitPropagatesReloadTo},
	UnitAtomBefore:                          {UnitBefore},
	UnitAtomAfter:                           {UnitAfter},
	UnitAtomTriggers:                        {UnitTriggers},
	UnitAtomTriggeredBy:                     {UnitTriggeredBy},
	UnitAtomAddDefaultTargetDependencyQueue: {UnitAfter, UnitBefore},
	UnitAtomJoinsNamespaceOf:                {UnitJoinsNamespaceOf},
}

// RelationsForAtom returns the fixed relation set an atom aggregates.
func RelationsForAtom(a UnitAtom) []UnitRelation {
	return atomRelations[a]
}

// DependencyMask records which source(s) contributed a dependency edge.
// Multi-edges with distinct masks coalesce into a single edge whose mask is
// the bitwise union.
type DependencyMask uint8

const (
	DependencyMaskFile DependencyMask = 1 << iota
	DependencyMaskDefault
	DependencyMaskImplicit
	DependencyMaskRuntime
)

// Union returns the bitwise union of two masks.
func (m DependencyMask) Union(other DependencyMask) DependencyMask {
	return m | other
}

// Has reports whether m includes the given source bit.
func (m DependencyMask) Has(bit DependencyMask) bool {
	return m&bit != 0
}
