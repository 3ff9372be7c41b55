package kv

import (
	"fmt"
)

// DurabilityLevel enumerates the durability variants.
type DurabilityLevel uint8

const (
	DurabilityLevelNone                       DurabilityLevel = iota
	DurabilityLevelMajority                                   // replicated to a majority of nodes
	DurabilityLevelMajorityAndPersistToActive                 // majority + persisted on the active node
	DurabilityLevelPersistToMajority                          // persisted on a majority of nodes
	DurabilityLevelClientVerified                             // explicit persistTo / replicateTo counts
)

// String returns the string representation of a DurabilityLevel.
func (l DurabilityLevel) String() string {
	switch l {
	case DurabilityLevelNone:
		return "none"
	case DurabilityLevelMajority:
		return "majority"
	case DurabilityLevelMajorityAndPersistToActive:
		return "majorityAndPersistToActive"
	case DurabilityLevelPersistToMajority:
		return "persistToMajority"
	case DurabilityLevelClientVerified:
		return "clientVerified"
	default:
		return "unknown"
	}
}

// DurabilityRequirement describes how durable a mutation must be before the
// request completes. The zero value is DurabilityNone.
type DurabilityRequirement struct {
	Level       DurabilityLevel
	PersistTo   int // only for DurabilityLevelClientVerified, the active node counts
	ReplicateTo int // only for DurabilityLevelClientVerified, the active node does not count
}

var (
	DurabilityNone                       = DurabilityRequirement{Level: DurabilityLevelNone}
	DurabilityMajority                   = DurabilityRequirement{Level: DurabilityLevelMajority}
	DurabilityMajorityAndPersistToActive = DurabilityRequirement{Level: DurabilityLevelMajorityAndPersistToActive}
	DurabilityPersistToMajority          = DurabilityRequirement{Level: DurabilityLevelPersistToMajority}
)

// ClientVerified creates a requirement that is verified by observing the
// individual nodes until persistTo nodes persisted the mutation and replicateTo
// replicas hold it in memory.
func ClientVerified(persistTo, replicateTo int) DurabilityRequirement {
	return DurabilityRequirement{
		Level:       DurabilityLevelClientVerified,
		PersistTo:   persistTo,
		ReplicateTo: replicateTo,
	}
}

// IsNone reports whether no durability beyond the primary write is requested.
func (d DurabilityRequirement) IsNone() bool {
	if d.Level == DurabilityLevelClientVerified {
		return d.PersistTo == 0 && d.ReplicateTo == 0
	}
	return d.Level == DurabilityLevelNone
}

// Validate checks the requirement against the replica count of the keyspace.
func (d DurabilityRequirement) Validate(numReplicas int) error {
	switch d.Level {
	case DurabilityLevelNone:
		return nil
	case DurabilityLevelMajority, DurabilityLevelMajorityAndPersistToActive, DurabilityLevelPersistToMajority:
		return nil
	case DurabilityLevelClientVerified:
		if d.PersistTo < 0 || d.ReplicateTo < 0 {
			return Errorf(KindInvalidArgument, "durability counts must not be negative (persistTo=%d, replicateTo=%d)", d.PersistTo, d.ReplicateTo)
		}
		if d.ReplicateTo > numReplicas {
			return Errorf(KindInvalidArgument, "replicateTo=%d exceeds the configured replica count %d", d.ReplicateTo, numReplicas)
		}
		if d.PersistTo > numReplicas+1 {
			return Errorf(KindInvalidArgument, "persistTo=%d exceeds the configured node count %d (replicas + active)", d.PersistTo, numReplicas+1)
		}
		return nil
	default:
		return Errorf(KindInvalidArgument, "unknown durability level %d", d.Level)
	}
}

// Majority returns the number of nodes (active included) that form a majority
// for the given replica count.
func Majority(numReplicas int) int {
	return (numReplicas + 2) / 2
}

// String returns the string representation of a DurabilityRequirement.
func (d DurabilityRequirement) String() string {
	if d.Level == DurabilityLevelClientVerified {
		return fmt.Sprintf("clientVerified(persistTo=%d, replicateTo=%d)", d.PersistTo, d.ReplicateTo)
	}
	return d.Level.String()
}
