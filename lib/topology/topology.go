package topology

import (
	"fmt"
	"hash/crc32"
	"sync/atomic"

	"github.com/ValentinKolb/kvcore/lib/kv"
)

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

// Router resolves keys to partitions and partitions to nodes. It is the view of
// the cluster topology the dispatcher and the durability poller depend on.
type Router interface {
	// RouteKey returns the partition of key and the node it is active on
	RouteKey(key []byte) (partition uint16, node string, err error)
	// ReplicaNodesFor returns the replica nodes of the partition of key, in
	// replica order. Unassigned replica slots are returned as empty strings.
	ReplicaNodesFor(key []byte) []string
	// NodesFor returns the active node and the replica nodes of a partition
	NodesFor(partition uint16) (active string, replicas []string)
	// NumReplicas returns the configured number of replicas
	NumReplicas() int
	// Revision increases with every topology change
	Revision() uint64
}

// --------------------------------------------------------------------------
// Map
// --------------------------------------------------------------------------

// Map is an immutable partition map. Partition p is active on nodes[p % n] and
// its replica i (1-based) lives on nodes[(p+i) % n]. Replica slots that would
// land on the active node again (more replicas than nodes) are left empty.
type Map struct {
	revision      uint64
	nodes         []string
	numPartitions int
	numReplicas   int
	down          map[string]bool
}

// NewMap creates a new map for the given nodes
func NewMap(nodes []string, numPartitions, numReplicas int) (*Map, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("topology needs at least one node")
	}
	if numPartitions <= 0 || numPartitions > 1<<16 {
		return nil, fmt.Errorf("number of partitions must be between 1 and %d, got %d", 1<<16, numPartitions)
	}
	if numReplicas < 0 || numReplicas > 3 {
		return nil, fmt.Errorf("number of replicas must be between 0 and 3, got %d", numReplicas)
	}
	return &Map{
		revision:      1,
		nodes:         append([]string(nil), nodes...),
		numPartitions: numPartitions,
		numReplicas:   numReplicas,
	}, nil
}

// PartitionForKey maps a key to its partition using the CRC32 based hash of the
// key-value protocol.
func PartitionForKey(key []byte, numPartitions int) uint16 {
	crc := crc32.ChecksumIEEE(key)
	return uint16(((crc >> 16) & 0x7fff) % uint32(numPartitions))
}

// Nodes returns the nodes of the map
func (m *Map) Nodes() []string {
	return append([]string(nil), m.nodes...)
}

// NumPartitions returns the number of partitions
func (m *Map) NumPartitions() int {
	return m.numPartitions
}

// NumReplicas returns the configured number of replicas
func (m *Map) NumReplicas() int {
	return m.numReplicas
}

// Revision returns the revision of the map
func (m *Map) Revision() uint64 {
	return m.revision
}

// IsDown reports whether node was marked down
func (m *Map) IsDown(node string) bool {
	return m.down[node]
}

// RouteKey returns the partition of key and its active node.
// A partition whose active node is marked down yields NodeUnavailable.
func (m *Map) RouteKey(key []byte) (uint16, string, error) {
	partition := PartitionForKey(key, m.numPartitions)
	active, _ := m.NodesFor(partition)
	if active == "" || m.down[active] {
		return partition, active, kv.Errorf(kv.KindNodeUnavailable, "active node of partition %d is unavailable", partition)
	}
	return partition, active, nil
}

// ReplicaNodesFor returns the replica nodes of the partition of key
func (m *Map) ReplicaNodesFor(key []byte) []string {
	_, replicas := m.NodesFor(PartitionForKey(key, m.numPartitions))
	return replicas
}

// NodesFor returns the active node and the replica nodes of a partition
func (m *Map) NodesFor(partition uint16) (string, []string) {
	n := len(m.nodes)
	p := int(partition)
	active := m.nodes[p%n]

	replicas := make([]string, m.numReplicas)
	for i := 1; i <= m.numReplicas; i++ {
		if i >= n {
			continue // not enough nodes for this replica
		}
		replicas[i-1] = m.nodes[(p+i)%n]
	}
	return active, replicas
}

// IsActive reports whether node is the active node of partition
func (m *Map) IsActive(node string, partition uint16) bool {
	active, _ := m.NodesFor(partition)
	return active == node
}

// ReplicaIndex returns the replica index (1-based) of node for partition, 0 if
// node is not a replica of the partition.
func (m *Map) ReplicaIndex(node string, partition uint16) int {
	_, replicas := m.NodesFor(partition)
	for i, r := range replicas {
		if r != "" && r == node {
			return i + 1
		}
	}
	return 0
}

// withDown returns a copy of the map with node marked down or up
func (m *Map) withDown(node string, down bool) *Map {
	c := *m
	c.revision++
	c.down = make(map[string]bool, len(m.down)+1)
	for k, v := range m.down {
		c.down[k] = v
	}
	if down {
		c.down[node] = true
	} else {
		delete(c.down, node)
	}
	return &c
}

// --------------------------------------------------------------------------
// Provider
// --------------------------------------------------------------------------

// Provider holds the current map and swaps it atomically on topology changes.
// Requests that were routed against an older map are not re-routed, the node
// rejects them and the dispatcher retries with the new map.
//
// Thread-safety: all methods are safe for concurrent use.
type Provider struct {
	current atomic.Pointer[Map]
}

// NewProvider creates a new provider with the initial map
func NewProvider(m *Map) *Provider {
	p := &Provider{}
	p.current.Store(m)
	return p
}

// Current returns the current map
func (p *Provider) Current() *Map {
	return p.current.Load()
}

// Update replaces the current map. Maps with a revision that is not newer than
// the current one are ignored, it reports whether the map was applied.
func (p *Provider) Update(m *Map) bool {
	for {
		old := p.current.Load()
		if old != nil && m.revision <= old.revision {
			return false
		}
		if p.current.CompareAndSwap(old, m) {
			return true
		}
	}
}

// MarkDown marks node as unavailable
func (p *Provider) MarkDown(node string) {
	p.swap(func(m *Map) *Map { return m.withDown(node, true) })
}

// MarkUp marks node as available again
func (p *Provider) MarkUp(node string) {
	p.swap(func(m *Map) *Map { return m.withDown(node, false) })
}

func (p *Provider) swap(fn func(*Map) *Map) {
	for {
		old := p.current.Load()
		if p.current.CompareAndSwap(old, fn(old)) {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see Router)
// --------------------------------------------------------------------------

func (p *Provider) RouteKey(key []byte) (uint16, string, error) {
	return p.Current().RouteKey(key)
}

func (p *Provider) ReplicaNodesFor(key []byte) []string {
	return p.Current().ReplicaNodesFor(key)
}

func (p *Provider) NodesFor(partition uint16) (string, []string) {
	return p.Current().NodesFor(partition)
}

func (p *Provider) NumReplicas() int {
	return p.Current().NumReplicas()
}

func (p *Provider) Revision() uint64 {
	return p.Current().Revision()
}
