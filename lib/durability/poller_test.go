package durability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/kvcore/lib/kv"
)

const testUUID = 0xabcdef

// fakeObserver answers observe requests from a per-node state table
type fakeObserver struct {
	mu       sync.Mutex
	states   map[string]ObserveResult
	failing  map[string]bool
	delay    time.Duration
	inflight map[string]*atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		states:   make(map[string]ObserveResult),
		failing:  make(map[string]bool),
		inflight: make(map[string]*atomic.Int32),
	}
}

func (o *fakeObserver) set(node string, current, persisted uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[node] = ObserveResult{PartitionUUID: testUUID, CurrentSeqNo: current, PersistedSeqNo: persisted}
}

func (o *fakeObserver) ObserveSeqNo(ctx context.Context, node string, token kv.MutationToken) (ObserveResult, error) {
	o.mu.Lock()
	counter, ok := o.inflight[node]
	if !ok {
		counter = &atomic.Int32{}
		o.inflight[node] = counter
	}
	o.mu.Unlock()

	n := counter.Add(1)
	defer counter.Add(-1)
	for {
		seen := o.maxSeen.Load()
		if n <= seen || o.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return ObserveResult{}, ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failing[node] {
		return ObserveResult{}, kv.NewError(kv.KindNodeUnavailable, "node down")
	}
	res, ok := o.states[node]
	if !ok {
		return ObserveResult{}, kv.NewError(kv.KindNodeUnavailable, "unknown node")
	}
	return res, nil
}

var (
	testToken   = kv.MutationToken{PartitionID: 3, PartitionUUID: testUUID, SeqNo: 10, Keyspace: "default._default._default"}
	testTargets = Targets("n0", []string{"n1", "n2"})
)

func TestRunSatisfied(t *testing.T) {
	obs := newFakeObserver()
	obs.set("n0", 10, 10)
	obs.set("n1", 10, 10)
	obs.set("n2", 10, 9)

	p := NewPoller(obs, Config{PollInterval: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outcome, err := p.Run(ctx, testToken, RequirementFor(kv.ClientVerified(2, 1), 2), testTargets)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.State != StateSatisfied {
		t.Errorf("Run() state = %s, want %s", outcome.State, StateSatisfied)
	}
	if outcome.Progress.Persisted != 2 || outcome.Progress.Replicated != 2 {
		t.Errorf("Run() progress = %+v, want persisted=2 replicated=2", outcome.Progress)
	}
}

func TestRunEventuallySatisfied(t *testing.T) {
	obs := newFakeObserver()
	obs.set("n0", 10, 10)
	obs.set("n1", 9, 0)
	obs.set("n2", 9, 0)

	p := NewPoller(obs, Config{PollInterval: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		obs.set("n1", 10, 10)
	}()

	outcome, err := p.Run(ctx, testToken, RequirementFor(kv.DurabilityPersistToMajority, 2), testTargets)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Rounds < 2 {
		t.Errorf("Run() rounds = %d, want at least 2", outcome.Rounds)
	}
}

func TestRunTimeout(t *testing.T) {
	obs := newFakeObserver()
	obs.set("n0", 10, 10)
	obs.set("n1", 10, 0)
	obs.set("n2", 10, 0)

	p := NewPoller(obs, Config{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome, err := p.Run(ctx, testToken, RequirementFor(kv.ClientVerified(2, 1), 2), testTargets)
	if !errors.Is(err, kv.ErrDurabilityTimeout) {
		t.Fatalf("Run() error = %v, want DurabilityTimeout", err)
	}
	if !errors.Is(err, kv.ErrTimeout) {
		t.Errorf("Run() error = %v, want it to match Timeout as well", err)
	}
	if outcome.State != StateTimedOut {
		t.Errorf("Run() state = %s, want %s", outcome.State, StateTimedOut)
	}
	if outcome.Progress.Persisted != 1 {
		t.Errorf("Run() persisted = %d, want 1", outcome.Progress.Persisted)
	}
}

func TestRunCancelled(t *testing.T) {
	obs := newFakeObserver()
	obs.set("n0", 10, 0)

	p := NewPoller(obs, Config{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcome, err := p.Run(ctx, testToken, RequirementFor(kv.DurabilityPersistToMajority, 0), Targets("n0", nil))
	if !errors.Is(err, kv.ErrCancelled) {
		t.Fatalf("Run() error = %v, want Cancelled", err)
	}
	if outcome.State != StateCancelled {
		t.Errorf("Run() state = %s, want %s", outcome.State, StateCancelled)
	}
}

func TestRunPartitionUUIDMismatch(t *testing.T) {
	obs := newFakeObserver()
	obs.set("n0", 10, 10)
	obs.mu.Lock()
	obs.states["n1"] = ObserveResult{PartitionUUID: testUUID + 1, CurrentSeqNo: 100, PersistedSeqNo: 100}
	obs.mu.Unlock()

	p := NewPoller(obs, Config{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	outcome, err := p.Run(ctx, testToken, RequirementFor(kv.ClientVerified(0, 1), 1), Targets("n0", []string{"n1"}))
	if !errors.Is(err, kv.ErrDurabilityTimeout) {
		t.Fatalf("Run() error = %v, want DurabilityTimeout", err)
	}
	if outcome.Progress.Replicated != 0 {
		t.Errorf("Run() replicated = %d, want 0", outcome.Progress.Replicated)
	}
}

func TestRunUnreachableTarget(t *testing.T) {
	obs := newFakeObserver()
	obs.set("n0", 10, 10)
	obs.set("n1", 10, 10)
	obs.set("n2", 10, 10)
	obs.failing["n2"] = true

	p := NewPoller(obs, Config{PollInterval: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// majority of three nodes is reachable without n2
	if _, err := p.Run(ctx, testToken, RequirementFor(kv.DurabilityPersistToMajority, 2), testTargets); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunBoundedOutstanding(t *testing.T) {
	obs := newFakeObserver()
	obs.delay = 5 * time.Millisecond
	obs.set("n0", 10, 10)
	obs.set("n1", 10, 10)

	p := NewPoller(obs, Config{PollInterval: time.Millisecond, MaxOutstandingPerTarget: 1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := p.Run(ctx, testToken, RequirementFor(kv.ClientVerified(2, 1), 1), Targets("n0", []string{"n1"})); err != nil {
				t.Errorf("Run() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := obs.maxSeen.Load(); got > 1 {
		t.Errorf("max outstanding observes per target = %d, want 1", got)
	}
}

func TestRequirementFor(t *testing.T) {
	tests := []struct {
		name     string
		d        kv.DurabilityRequirement
		replicas int
		want     Requirement
	}{
		{"none", kv.DurabilityNone, 2, Requirement{}},
		{"majority one replica", kv.DurabilityMajority, 1, Requirement{ReplicateTo: 0}},
		{"majority two replicas", kv.DurabilityMajority, 2, Requirement{ReplicateTo: 1}},
		{"majority three replicas", kv.DurabilityMajority, 3, Requirement{ReplicateTo: 1}},
		{"majority and persist active", kv.DurabilityMajorityAndPersistToActive, 2, Requirement{ReplicateTo: 1, PersistActive: true}},
		{"persist majority", kv.DurabilityPersistToMajority, 2, Requirement{PersistTo: 2}},
		{"persist majority no replicas", kv.DurabilityPersistToMajority, 0, Requirement{PersistTo: 1}},
		{"client verified", kv.ClientVerified(2, 1), 2, Requirement{PersistTo: 2, ReplicateTo: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RequirementFor(tt.d, tt.replicas); got != tt.want {
				t.Errorf("RequirementFor(%s, %d) = %s, want %s", tt.d, tt.replicas, got, tt.want)
			}
		})
	}
}

func TestSatisfiedBy(t *testing.T) {
	r := Requirement{PersistTo: 1, ReplicateTo: 1, PersistActive: true}

	if r.SatisfiedBy(Progress{Persisted: 1, Replicated: 1}) {
		t.Errorf("SatisfiedBy() = true without the active node persisting")
	}
	if !r.SatisfiedBy(Progress{Persisted: 1, Replicated: 1, ActivePersisted: true}) {
		t.Errorf("SatisfiedBy() = false, want true")
	}
	if !(Requirement{}).IsZero() {
		t.Errorf("IsZero() = false for the zero requirement")
	}
}

func TestTargets(t *testing.T) {
	got := Targets("n0", []string{"n1", "", "n0"})
	if len(got) != 2 || !got[0].Active || got[1].Node != "n1" {
		t.Errorf("Targets() = %+v, want active n0 and replica n1", got)
	}
}
