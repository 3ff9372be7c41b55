package durability

import (
	"fmt"

	"github.com/ValentinKolb/kvcore/lib/kv"
)

// Requirement is a durability requirement translated into observable counts
type Requirement struct {
	PersistTo     int  // nodes (active included) that must have persisted the mutation
	ReplicateTo   int  // replicas (active excluded) that must hold the mutation
	PersistActive bool // the active node itself must have persisted the mutation
}

// RequirementFor derives the observable counts of d for a keyspace with
// numReplicas replicas. The majority levels count the active node as one of
// the majority, it holds the mutation by definition.
func RequirementFor(d kv.DurabilityRequirement, numReplicas int) Requirement {
	majority := kv.Majority(numReplicas)
	switch d.Level {
	case kv.DurabilityLevelMajority:
		return Requirement{ReplicateTo: majority - 1}
	case kv.DurabilityLevelMajorityAndPersistToActive:
		return Requirement{ReplicateTo: majority - 1, PersistActive: true}
	case kv.DurabilityLevelPersistToMajority:
		return Requirement{PersistTo: majority}
	case kv.DurabilityLevelClientVerified:
		return Requirement{PersistTo: d.PersistTo, ReplicateTo: d.ReplicateTo}
	default:
		return Requirement{}
	}
}

// IsZero reports whether the requirement is met without polling
func (r Requirement) IsZero() bool {
	return r.PersistTo == 0 && r.ReplicateTo == 0 && !r.PersistActive
}

// SatisfiedBy reports whether the observed progress meets the requirement
func (r Requirement) SatisfiedBy(p Progress) bool {
	if r.PersistActive && !p.ActivePersisted {
		return false
	}
	return p.Persisted >= r.PersistTo && p.Replicated >= r.ReplicateTo
}

// String returns the string representation of a Requirement.
func (r Requirement) String() string {
	return fmt.Sprintf("persistTo=%d replicateTo=%d persistActive=%t", r.PersistTo, r.ReplicateTo, r.PersistActive)
}
