package lstore

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvcore/lib/topology"
	"github.com/ValentinKolb/kvcore/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

// Config configures a simulated cluster
type Config struct {
	NumPartitions int
	NumReplicas   int
	// PersistDelay is the time a node needs to persist a mutation
	PersistDelay time.Duration
	// ReplicateDelay is the time a mutation needs to reach a replica
	ReplicateDelay time.Duration
	// ExpiryPagerInterval is how often expired documents are removed (0 = 1s)
	ExpiryPagerInterval time.Duration
}

// Cluster is a set of in-memory nodes sharing one partition layout. Mutations
// are accepted by the active node of a partition and asynchronously persisted
// and replicated, so the durability state of a mutation can be observed
// converging over time.
type Cluster struct {
	config Config
	topo   *topology.Map
	nodes  []*Node
	byName map[string]*Node
	uuids  []atomic.Uint64 // partition uuid per partition
	cas    atomic.Uint64
}

// NewCluster creates and starts a cluster with one node per name. The
// partition layout follows topology.NewMap.
func NewCluster(names []string, config Config) (*Cluster, error) {
	topo, err := topology.NewMap(names, config.NumPartitions, config.NumReplicas)
	if err != nil {
		return nil, fmt.Errorf("failed to create topology: %w", err)
	}

	c := &Cluster{
		config: config,
		topo:   topo,
		byName: make(map[string]*Node, len(names)),
		uuids:  make([]atomic.Uint64, config.NumPartitions),
	}
	for i := range c.uuids {
		c.uuids[i].Store(util.GenerateSeed())
	}
	// CAS values only have to be unique and non-zero, the clock keeps them
	// increasing across restarts
	c.cas.Store(uint64(time.Now().UnixNano()))

	for _, name := range names {
		if _, ok := c.byName[name]; ok {
			c.Close()
			return nil, fmt.Errorf("duplicate node name %s", name)
		}
		n := newNode(name, c)
		c.nodes = append(c.nodes, n)
		c.byName[name] = n
	}

	Logger.Infof("Started simulated cluster with %d nodes, %d partitions and %d replicas",
		len(names), config.NumPartitions, config.NumReplicas)
	return c, nil
}

// Topology returns the partition layout of the cluster
func (c *Cluster) Topology() *topology.Map {
	return c.topo
}

// Nodes returns all nodes in topology order
func (c *Cluster) Nodes() []*Node {
	return c.nodes
}

// Node returns the node with the given name or nil
func (c *Cluster) Node(name string) *Node {
	return c.byName[name]
}

// Failover assigns a new uuid to a partition. Mutation tokens issued before
// no longer match, so the durability of their mutations can not be verified.
func (c *Cluster) Failover(partition uint16) {
	c.uuids[partition].Store(util.GenerateSeed())
	Logger.Infof("Partition %d failed over", partition)
}

// Close stops the persistence and replication workers of all nodes
func (c *Cluster) Close() {
	for _, n := range c.nodes {
		n.close()
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Cluster) nextCas() uint64 {
	return c.cas.Add(1)
}

func (c *Cluster) partitionUUID(partition uint16) uint64 {
	return c.uuids[partition].Load()
}

// replicasOf returns the nodes holding a replica of the partition
func (c *Cluster) replicasOf(partition uint16) []*Node {
	_, names := c.topo.NodesFor(partition)
	replicas := make([]*Node, 0, len(names))
	for _, name := range names {
		if n := c.byName[name]; n != nil {
			replicas = append(replicas, n)
		}
	}
	return replicas
}
