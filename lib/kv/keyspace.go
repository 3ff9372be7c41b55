package kv

import (
	"strings"
)

const (
	// DefaultScope is the scope used when none is given.
	DefaultScope = "_default"
	// DefaultCollection is the collection used when none is given.
	DefaultCollection = "_default"
)

// Keyspace identifies where a document lives.
type Keyspace struct {
	Bucket     string
	Scope      string
	Collection string
}

// NewKeyspace creates a keyspace, empty scope and collection names fall back
// to the defaults.
func NewKeyspace(bucket, scope, collection string) Keyspace {
	if scope == "" {
		scope = DefaultScope
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return Keyspace{Bucket: bucket, Scope: scope, Collection: collection}
}

// ParseKeyspace parses "bucket", "bucket/scope" or "bucket/scope/collection".
func ParseKeyspace(s string) (Keyspace, error) {
	parts := strings.Split(s, "/")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return Keyspace{}, Errorf(KindInvalidArgument, "invalid keyspace %q (expected bucket[/scope[/collection]])", s)
	}
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return NewKeyspace(parts[0], parts[1], parts[2]), nil
}

// String returns the string representation of a Keyspace.
func (k Keyspace) String() string {
	scope, collection := k.Scope, k.Collection
	if scope == "" {
		scope = DefaultScope
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return k.Bucket + "/" + scope + "/" + collection
}
