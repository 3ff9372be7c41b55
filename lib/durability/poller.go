package durability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var Logger = logger.GetLogger("durability")

var (
	pollsTotal      = metrics.NewCounter("kvcore_durability_polls_total")
	pollsSkipped    = metrics.NewCounter("kvcore_durability_polls_skipped_total")
	pollErrorsTotal = metrics.NewCounter("kvcore_durability_poll_errors_total")
	satisfiedTotal  = metrics.NewCounter(`kvcore_durability_outcomes_total{outcome="satisfied"}`)
	timedOutTotal   = metrics.NewCounter(`kvcore_durability_outcomes_total{outcome="timeout"}`)
	cancelledTotal  = metrics.NewCounter(`kvcore_durability_outcomes_total{outcome="cancelled"}`)
	durationSeconds = metrics.NewHistogram("kvcore_durability_duration_seconds")
)

// --------------------------------------------------------------------------
// Observer
// --------------------------------------------------------------------------

// ObserveResult is the answer of one node to an observe request
type ObserveResult struct {
	Node           string
	Active         bool
	PartitionUUID  uint64
	CurrentSeqNo   uint64
	PersistedSeqNo uint64
}

// Observer queries the persistence and replication state of the partition of
// a mutation token on a single node.
type Observer interface {
	ObserveSeqNo(ctx context.Context, node string, token kv.MutationToken) (ObserveResult, error)
}

// Target is a node the poller observes
type Target struct {
	Node   string
	Active bool
}

// Targets builds the target list from the active node and the replica nodes.
// Unassigned replica slots are skipped, they can never count.
func Targets(active string, replicas []string) []Target {
	targets := make([]Target, 0, len(replicas)+1)
	if active != "" {
		targets = append(targets, Target{Node: active, Active: true})
	}
	for _, r := range replicas {
		if r != "" && r != active {
			targets = append(targets, Target{Node: r})
		}
	}
	return targets
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// State is the state of a durability poll
type State uint8

const (
	StatePolling State = iota
	StateSatisfied
	StateTimedOut
	StateCancelled
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateSatisfied:
		return "satisfied"
	case StateTimedOut:
		return "timed out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Progress counts how far a mutation got
type Progress struct {
	Persisted       int  // nodes that persisted the mutation (active included)
	Replicated      int  // replicas that hold the mutation (active excluded)
	ActivePersisted bool // whether the active node persisted the mutation
}

// Outcome is the result of Poller.Run
type Outcome struct {
	State    State
	Rounds   int
	Progress Progress
}

// --------------------------------------------------------------------------
// Poller
// --------------------------------------------------------------------------

// Config configures the poller
type Config struct {
	// PollInterval is the fixed delay between two poll rounds
	PollInterval time.Duration
	// MaxOutstandingPerTarget bounds the observe requests in flight per node,
	// across all polls sharing the poller
	MaxOutstandingPerTarget int
}

// Poller verifies durability requirements by polling observe state until the
// requirement is met or the context is done. It never relaxes a requirement:
// targets that are down or lagging simply never count.
//
// Thread-safety: a Poller is shared by all requests of a core and is safe for
// concurrent use.
type Poller struct {
	observer Observer
	config   Config
	limits   *xsync.MapOf[string, *semaphore.Weighted]
}

// NewPoller creates a new poller
func NewPoller(observer Observer, config Config) *Poller {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Millisecond
	}
	config.MaxOutstandingPerTarget = max(config.MaxOutstandingPerTarget, 1)
	return &Poller{
		observer: observer,
		config:   config,
		limits:   xsync.NewMapOf[string, *semaphore.Weighted](),
	}
}

// Run polls the targets until req is satisfied by token or ctx is done.
// The returned error is nil on StateSatisfied, a DurabilityTimeout error on
// StateTimedOut and a Cancelled error on StateCancelled.
func (p *Poller) Run(ctx context.Context, token kv.MutationToken, req Requirement, targets []Target) (Outcome, error) {
	start := time.Now()
	defer func() { durationSeconds.UpdateDuration(start) }()

	latest := make(map[string]ObserveResult, len(targets))
	var mu sync.Mutex

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	outcome := Outcome{State: StatePolling}
	for {
		outcome.Rounds++
		p.round(ctx, token, targets, latest, &mu)

		mu.Lock()
		outcome.Progress = tally(token, targets, latest)
		mu.Unlock()

		if req.SatisfiedBy(outcome.Progress) {
			outcome.State = StateSatisfied
			satisfiedTotal.Inc()
			Logger.Debugf("Durability %s for %s satisfied after %d rounds", req, token, outcome.Rounds)
			return outcome, nil
		}

		timer.Reset(p.config.PollInterval)
		select {
		case <-ctx.Done():
			return p.finish(ctx, token, req, outcome)
		case <-timer.C:
		}
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// round fans out one observe per target. Targets whose outstanding limit is
// reached are skipped for this round.
func (p *Poller) round(ctx context.Context, token kv.MutationToken, targets []Target, latest map[string]ObserveResult, mu *sync.Mutex) {
	var g errgroup.Group
	for _, target := range targets {
		target := target
		sem := p.limit(target.Node)
		if !sem.TryAcquire(1) {
			pollsSkipped.Inc()
			continue
		}

		g.Go(func() error {
			defer sem.Release(1)
			pollsTotal.Inc()

			res, err := p.observer.ObserveSeqNo(ctx, target.Node, token)
			if err != nil {
				// an unreachable target does not count, it is polled again next round
				pollErrorsTotal.Inc()
				Logger.Debugf("Observe of %s on %s failed: %v", token, target.Node, err)
				return nil
			}
			res.Node = target.Node
			res.Active = target.Active

			mu.Lock()
			latest[target.Node] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// limit returns the outstanding limit of a target
func (p *Poller) limit(node string) *semaphore.Weighted {
	sem, _ := p.limits.LoadOrCompute(node, func() *semaphore.Weighted {
		return semaphore.NewWeighted(int64(p.config.MaxOutstandingPerTarget))
	})
	return sem
}

// finish maps a done context to the final state
func (p *Poller) finish(ctx context.Context, token kv.MutationToken, req Requirement, outcome Outcome) (Outcome, error) {
	pr := outcome.Progress
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		outcome.State = StateTimedOut
		timedOutTotal.Inc()
		return outcome, kv.Errorf(kv.KindDurabilityTimeout,
			"mutation %s was applied but durability %s was not reached (persisted=%d, replicated=%d, activePersisted=%t, rounds=%d)",
			token, req, pr.Persisted, pr.Replicated, pr.ActivePersisted, outcome.Rounds)
	}

	outcome.State = StateCancelled
	cancelledTotal.Inc()
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return outcome, kv.NewError(kv.KindCancelled, fmt.Sprintf("durability poll for %s cancelled, the mutation may have been applied", token))
	}
	return outcome, kv.WrapError(kv.KindCancelled, cause, fmt.Sprintf("durability poll for %s cancelled, the mutation may have been applied", token))
}

// tally counts the targets whose latest observation satisfies the token
func tally(token kv.MutationToken, targets []Target, latest map[string]ObserveResult) Progress {
	var pr Progress
	for _, target := range targets {
		res, ok := latest[target.Node]
		if !ok {
			continue
		}
		// a different partition uuid means the partition failed over, the
		// node's history may not contain the mutation
		if res.PartitionUUID != token.PartitionUUID {
			continue
		}
		if res.PersistedSeqNo >= token.SeqNo {
			pr.Persisted++
			if target.Active {
				pr.ActivePersisted = true
			}
		}
		if !target.Active && res.CurrentSeqNo >= token.SeqNo {
			pr.Replicated++
		}
	}
	return pr
}
