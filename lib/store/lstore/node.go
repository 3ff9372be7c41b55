package lstore

import (
	"bytes"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvcore/lib/store"
	"github.com/ValentinKolb/kvcore/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// defaultLockTime is used by GetAndLock when no lock time is given
	defaultLockTime = 15 * time.Second
	// maxLockTime caps the lock time of GetAndLock
	maxLockTime = 30 * time.Second
	// pausedPollInterval is how often a paused worker checks whether it may continue
	pausedPollInterval = time.Millisecond
	// defaultExpiryPagerInterval is used when Config.ExpiryPagerInterval is zero
	defaultExpiryPagerInterval = time.Second
)

// document is an immutable stored document. Writers replace it, readers load it
// without locking.
type document struct {
	store.Document
	expiresAt   time.Time
	lockedUntil time.Time
}

func (d *document) expired(now time.Time) bool {
	return !d.expiresAt.IsZero() && !now.Before(d.expiresAt)
}

func (d *document) locked(now time.Time) bool {
	return now.Before(d.lockedUntil)
}

// partitionState is the copy of one partition on a node
type partitionState struct {
	mu        sync.Mutex // serializes mutations, sequence numbers and queue order
	docs      *xsync.MapOf[store.Key, *document]
	expiries  *util.MapHeap[store.Key] // expiry time in unix nanos per key
	seqNo     uint64
	persisted atomic.Uint64
}

// mutation is handed to the persistence and replication workers
type mutation struct {
	partition uint16
	key       store.Key
	doc       *document // nil for deletions
	seqNo     uint64
	due       time.Time
}

var _ store.IStore = (*Node)(nil)

// Node is a single simulated cluster node. It implements store.IStore.
type Node struct {
	name       string
	cluster    *Cluster
	partitions []*partitionState

	persistQ  *util.MPSC[mutation]
	replicaQ  *util.MPSC[mutation]
	persistOn atomic.Bool
	replOn    atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// newNode creates a node and starts its workers
func newNode(name string, c *Cluster) *Node {
	n := &Node{
		name:       name,
		cluster:    c,
		partitions: make([]*partitionState, c.config.NumPartitions),
		persistQ:   util.NewMPSC[mutation](),
		replicaQ:   util.NewMPSC[mutation](),
		stopCh:     make(chan struct{}),
	}
	for i := range n.partitions {
		n.partitions[i] = &partitionState{
			docs:     xsync.NewMapOf[store.Key, *document](),
			expiries: util.NewMapHeap[store.Key](),
		}
	}
	n.persistOn.Store(true)
	n.replOn.Store(true)

	n.wg.Add(3)
	go n.runPersistence()
	go n.runReplication()
	go n.runExpiryPager()
	return n
}

// Name returns the name of the node
func (n *Node) Name() string {
	return n.name
}

// SetPersistence pauses or resumes the persistence of mutations on this node.
// A paused node keeps accepting mutations, its persisted sequence numbers stop
// advancing.
func (n *Node) SetPersistence(enabled bool) {
	n.persistOn.Store(enabled)
	Logger.Infof("Persistence on %s enabled: %t", n.name, enabled)
}

// SetReplication pauses or resumes the replication of mutations to this node
func (n *Node) SetReplication(enabled bool) {
	n.replOn.Store(enabled)
	Logger.Infof("Replication to %s enabled: %t", n.name, enabled)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.IStore)
// --------------------------------------------------------------------------

func (n *Node) Get(partition uint16, key store.Key) (store.Document, store.Status) {
	ps, st := n.active(partition)
	if st != store.StatusOK {
		return store.Document{}, st
	}
	doc, ok := ps.docs.Load(key)
	if !ok || doc.expired(time.Now()) {
		return store.Document{}, store.StatusKeyNotFound
	}
	return doc.Document, store.StatusOK
}

func (n *Node) GetAndLock(partition uint16, key store.Key, lockTime time.Duration) (store.Document, store.Status) {
	if lockTime <= 0 {
		lockTime = defaultLockTime
	}
	lockTime = min(lockTime, maxLockTime)

	var locked store.Document
	_, st := n.mutate(partition, key, func(cur *document, now time.Time) (*document, store.Status) {
		if cur == nil {
			return nil, store.StatusKeyNotFound
		}
		if cur.locked(now) {
			return nil, store.StatusLocked
		}
		next := *cur
		next.lockedUntil = now.Add(lockTime)
		return &next, store.StatusOK
	}, func(doc *document) {
		locked = doc.Document
	})
	return locked, st
}

func (n *Node) Unlock(partition uint16, key store.Key, cas uint64) store.Status {
	ps, st := n.active(partition)
	if st != store.StatusOK {
		return st
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	cur, ok := ps.docs.Load(key)
	if !ok || cur.expired(now) {
		return store.StatusKeyNotFound
	}
	if !cur.locked(now) {
		return store.StatusNotStored
	}
	if cur.Cas != cas {
		return store.StatusKeyExists
	}
	// unlocking is not a mutation, the document keeps its cas and seqno
	next := *cur
	next.lockedUntil = time.Time{}
	ps.docs.Store(key, &next)
	return store.StatusOK
}

func (n *Node) Touch(partition uint16, key store.Key, expiry uint32) (store.MutationInfo, store.Status) {
	return n.mutate(partition, key, func(cur *document, now time.Time) (*document, store.Status) {
		if cur == nil {
			return nil, store.StatusKeyNotFound
		}
		if cur.locked(now) {
			return nil, store.StatusLocked
		}
		next := *cur
		next.Expiry = expiry
		next.expiresAt = store.ExpiryTime(expiry, now)
		return &next, store.StatusOK
	}, nil)
}

func (n *Node) Add(partition uint16, key store.Key, doc store.Document) (store.MutationInfo, store.Status) {
	return n.mutate(partition, key, func(cur *document, now time.Time) (*document, store.Status) {
		if cur != nil {
			return nil, store.StatusKeyExists
		}
		return newDocument(doc, now), store.StatusOK
	}, nil)
}

func (n *Node) Set(partition uint16, key store.Key, doc store.Document, cas uint64) (store.MutationInfo, store.Status) {
	return n.mutate(partition, key, func(cur *document, now time.Time) (*document, store.Status) {
		if cur == nil {
			if cas != 0 {
				return nil, store.StatusKeyNotFound
			}
			return newDocument(doc, now), store.StatusOK
		}
		if st := checkCas(cur, cas, now); st != store.StatusOK {
			return nil, st
		}
		return newDocument(doc, now), store.StatusOK
	}, nil)
}

func (n *Node) Replace(partition uint16, key store.Key, doc store.Document, cas uint64) (store.MutationInfo, store.Status) {
	return n.mutate(partition, key, func(cur *document, now time.Time) (*document, store.Status) {
		if cur == nil {
			return nil, store.StatusKeyNotFound
		}
		if st := checkCas(cur, cas, now); st != store.StatusOK {
			return nil, st
		}
		return newDocument(doc, now), store.StatusOK
	}, nil)
}

func (n *Node) Delete(partition uint16, key store.Key, cas uint64) (store.MutationInfo, store.Status) {
	return n.mutate(partition, key, func(cur *document, now time.Time) (*document, store.Status) {
		if cur == nil {
			return nil, store.StatusKeyNotFound
		}
		if st := checkCas(cur, cas, now); st != store.StatusOK {
			return nil, st
		}
		return nil, store.StatusOK
	}, nil)
}

func (n *Node) Append(partition uint16, key store.Key, value []byte, cas uint64) (store.MutationInfo, store.Status) {
	return n.concat(partition, key, value, cas, false)
}

func (n *Node) Prepend(partition uint16, key store.Key, value []byte, cas uint64) (store.MutationInfo, store.Status) {
	return n.concat(partition, key, value, cas, true)
}

func (n *Node) Counter(partition uint16, key store.Key, delta uint64, decrement bool, initial *uint64, expiry uint32) (uint64, store.MutationInfo, store.Status) {
	var value uint64
	info, st := n.mutate(partition, key, func(cur *document, now time.Time) (*document, store.Status) {
		if cur == nil {
			if initial == nil {
				return nil, store.StatusKeyNotFound
			}
			value = *initial
			return newDocument(store.Document{Value: []byte(strconv.FormatUint(value, 10)), Expiry: expiry}, now), store.StatusOK
		}
		if cur.locked(now) {
			return nil, store.StatusLocked
		}

		current, err := strconv.ParseUint(string(cur.Value), 10, 64)
		if err != nil {
			return nil, store.StatusBadDelta
		}
		switch {
		case !decrement:
			value = current + delta // wraps around like the protocol demands
		case delta > current:
			value = 0
		default:
			value = current - delta
		}

		next := *cur
		next.Value = []byte(strconv.FormatUint(value, 10))
		return &next, store.StatusOK
	}, nil)
	return value, info, st
}

func (n *Node) ObserveSeqNo(partition uint16, partitionUUID uint64) (store.ObserveInfo, store.Status) {
	if int(partition) >= len(n.partitions) {
		return store.ObserveInfo{}, store.StatusInvalidArgs
	}
	topo := n.cluster.topo
	active := topo.IsActive(n.name, partition)
	if !active && topo.ReplicaIndex(n.name, partition) == 0 {
		return store.ObserveInfo{}, store.StatusNotMyPartition
	}
	ps := n.partitions[partition]

	ps.mu.Lock()
	current := ps.seqNo
	ps.mu.Unlock()

	return store.ObserveInfo{
		Active:         active,
		PartitionUUID:  n.cluster.partitionUUID(partition),
		CurrentSeqNo:   current,
		PersistedSeqNo: ps.persisted.Load(),
	}, store.StatusOK
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// active returns the partition state if this node is active for partition
func (n *Node) active(partition uint16) (*partitionState, store.Status) {
	if int(partition) >= len(n.partitions) {
		return nil, store.StatusInvalidArgs
	}
	if !n.cluster.topo.IsActive(n.name, partition) {
		return nil, store.StatusNotMyPartition
	}
	return n.partitions[partition], store.StatusOK
}

// mutate applies fn to the current document of key. If fn accepts, the result
// gets a new CAS and the next sequence number and is handed to the persistence
// queue of this node and the replication queues of the replicas. A nil
// document deletes the key. onApplied sees the stored document.
func (n *Node) mutate(partition uint16, key store.Key, fn func(cur *document, now time.Time) (*document, store.Status), onApplied func(*document)) (store.MutationInfo, store.Status) {
	ps, st := n.active(partition)
	if st != store.StatusOK {
		return store.MutationInfo{}, st
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	cur, ok := ps.docs.Load(key)
	if ok && cur.expired(now) {
		ps.docs.Delete(key)
		cur = nil
	}

	next, st := fn(cur, now)
	if st != store.StatusOK {
		return store.MutationInfo{}, st
	}

	cas := n.cluster.nextCas()
	ps.seqNo++
	if next == nil {
		ps.docs.Delete(key)
	} else {
		next.Cas = cas
		ps.docs.Store(key, next)
		if onApplied != nil {
			onApplied(next)
		}
	}
	ps.trackExpiry(key, next)

	m := mutation{partition: partition, key: key, doc: next, seqNo: ps.seqNo}
	n.schedulePersist(m, now)
	for _, replica := range n.cluster.replicasOf(partition) {
		rm := m
		rm.due = now.Add(n.cluster.config.ReplicateDelay)
		replica.replicaQ.Push(rm)
	}

	return store.MutationInfo{
		Cas:           cas,
		PartitionUUID: n.cluster.partitionUUID(partition),
		SeqNo:         ps.seqNo,
	}, store.StatusOK
}

// concat implements append and prepend
func (n *Node) concat(partition uint16, key store.Key, value []byte, cas uint64, prepend bool) (store.MutationInfo, store.Status) {
	return n.mutate(partition, key, func(cur *document, now time.Time) (*document, store.Status) {
		if cur == nil {
			return nil, store.StatusNotStored
		}
		if st := checkCas(cur, cas, now); st != store.StatusOK {
			return nil, st
		}

		next := *cur
		next.lockedUntil = time.Time{}
		if prepend {
			next.Value = bytes.Join([][]byte{value, cur.Value}, nil)
		} else {
			next.Value = bytes.Join([][]byte{cur.Value, value}, nil)
		}
		return &next, store.StatusOK
	}, nil)
}

// schedulePersist queues a mutation for persistence on this node
func (n *Node) schedulePersist(m mutation, now time.Time) {
	m.due = now.Add(n.cluster.config.PersistDelay)
	n.persistQ.Push(m)
}

// runPersistence advances the persisted sequence numbers
func (n *Node) runPersistence() {
	defer n.wg.Done()
	for m := range n.persistQ.Recv() {
		if !n.waitUntil(m.due, &n.persistOn) {
			continue // stopped, drain the queue
		}
		ps := n.partitions[m.partition]
		for {
			old := ps.persisted.Load()
			if m.seqNo <= old || ps.persisted.CompareAndSwap(old, m.seqNo) {
				break
			}
		}
	}
}

// runReplication applies mutations of other nodes to the local replica copies
func (n *Node) runReplication() {
	defer n.wg.Done()
	for m := range n.replicaQ.Recv() {
		if !n.waitUntil(m.due, &n.replOn) {
			continue
		}

		ps := n.partitions[m.partition]
		ps.mu.Lock()
		if m.doc == nil {
			ps.docs.Delete(m.key)
		} else {
			ps.docs.Store(m.key, m.doc)
		}
		ps.trackExpiry(m.key, m.doc)
		ps.seqNo = max(ps.seqNo, m.seqNo)
		n.schedulePersist(m, time.Now())
		ps.mu.Unlock()
	}
}

// runExpiryPager removes expired documents from memory. Reads and mutations
// treat expired documents as missing, the pager only frees them.
func (n *Node) runExpiryPager() {
	defer n.wg.Done()
	interval := n.cluster.config.ExpiryPagerInterval
	if interval <= 0 {
		interval = defaultExpiryPagerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case now := <-ticker.C:
			if removed := n.expire(now); removed > 0 {
				Logger.Debugf("Expiry pager removed %d documents from %s", removed, n.name)
			}
		}
	}
}

// expire removes all documents that expired before now and returns their count
func (n *Node) expire(now time.Time) int {
	removed := 0
	for _, ps := range n.partitions {
		ps.mu.Lock()
		for _, key := range ps.expiries.PopBefore(now.UnixNano()) {
			if doc, ok := ps.docs.Load(key); ok && doc.expired(now) {
				ps.docs.Delete(key)
				removed++
			}
		}
		ps.mu.Unlock()
	}
	return removed
}

// trackExpiry queues key for the expiry pager if doc expires, ps.mu must be held
func (ps *partitionState) trackExpiry(key store.Key, doc *document) {
	if doc == nil || doc.expiresAt.IsZero() {
		ps.expiries.RemoveByKey(key)
		return
	}
	ps.expiries.AddItem(key, doc.expiresAt.UnixNano())
}

// waitUntil blocks until due has passed and the worker is enabled. It returns
// false once the node is stopped.
func (n *Node) waitUntil(due time.Time, enabled *atomic.Bool) bool {
	for {
		wait := time.Until(due)
		if enabled.Load() && wait <= 0 {
			return true
		}
		if !enabled.Load() {
			wait = pausedPollInterval
		}

		select {
		case <-n.stopCh:
			return false
		case <-time.After(wait):
		}
	}
}

// close stops the workers and waits for them to drain their queues
func (n *Node) close() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.persistQ.Close()
		n.replicaQ.Close()
	})
	n.wg.Wait()
}

// newDocument creates a stored document from a client document
func newDocument(doc store.Document, now time.Time) *document {
	d := &document{Document: doc}
	d.Value = append([]byte(nil), doc.Value...)
	d.expiresAt = store.ExpiryTime(doc.Expiry, now)
	return d
}

// checkCas validates a cas against the current document, locks included.
// A locked document can only be changed with the CAS of the lock.
func checkCas(cur *document, cas uint64, now time.Time) store.Status {
	if cur.locked(now) {
		if cas != cur.Cas {
			return store.StatusLocked
		}
		return store.StatusOK
	}
	if cas != 0 && cas != cur.Cas {
		return store.StatusKeyExists
	}
	return store.StatusOK
}
