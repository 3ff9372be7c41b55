package retry

import (
	"math/rand"
	"time"

	"github.com/ValentinKolb/kvcore/lib/kv"
)

// Strategy decides whether a failed attempt is retried (see kv.RetryStrategy)
type Strategy = kv.RetryStrategy

// --------------------------------------------------------------------------
// Best Effort
// --------------------------------------------------------------------------

// BestEffortConfig configures a best effort strategy
type BestEffortConfig struct {
	InitialBackoff time.Duration // backoff before the second attempt
	MaxBackoff     time.Duration // cap of the exponential backoff
	Factor         float64       // growth per attempt
	Jitter         float64       // relative jitter, 0.1 = +-10%
	MaxAttempts    int           // 0 = bounded by the request timeout only

	// RetryCasMismatch opts into retrying CasMismatch failures
	RetryCasMismatch bool
	// RetryNonIdempotent opts into retrying Retryable failures of operations
	// that are not idempotent. Those may have been applied by the server.
	RetryNonIdempotent bool
}

// DefaultBestEffortConfig returns the default configuration
func DefaultBestEffortConfig() BestEffortConfig {
	return BestEffortConfig{
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Factor:         2,
		Jitter:         0.1,
	}
}

// BestEffort retries NodeUnavailable and Retryable failures with exponential
// backoff and jitter. The request deadline is enforced by the dispatcher, not
// by the strategy.
type BestEffort struct {
	config BestEffortConfig
}

// NewBestEffort creates a new best effort strategy. Zero values in config fall
// back to the defaults.
func NewBestEffort(config BestEffortConfig) *BestEffort {
	def := DefaultBestEffortConfig()
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.Factor < 1 {
		config.Factor = def.Factor
	}
	if config.Jitter < 0 || config.Jitter >= 1 {
		config.Jitter = def.Jitter
	}
	return &BestEffort{config: config}
}

// ShouldRetry implements kv.RetryStrategy
func (s *BestEffort) ShouldRetry(state kv.RetryState, kind kv.ErrorKind) kv.RetryDecision {
	if s.config.MaxAttempts > 0 && state.Attempts >= s.config.MaxAttempts {
		return kv.GiveUp
	}

	switch kind {
	case kv.KindNodeUnavailable:
		// the request never reached a node that owns the partition
	case kv.KindRetryable:
		if !state.Idempotent && !s.config.RetryNonIdempotent {
			return kv.GiveUp
		}
	case kv.KindCasMismatch:
		if !s.config.RetryCasMismatch {
			return kv.GiveUp
		}
	default:
		return kv.GiveUp
	}

	return kv.RetryAfter(s.Backoff(state.Attempts))
}

// Backoff returns the delay before the attempt that follows attempt number
// attempts (1-based).
func (s *BestEffort) Backoff(attempts int) time.Duration {
	d := float64(s.config.InitialBackoff)
	for i := 1; i < attempts && d < float64(s.config.MaxBackoff); i++ {
		d *= s.config.Factor
	}
	d = min(d, float64(s.config.MaxBackoff))

	// small random jitter (+-Jitter)
	if s.config.Jitter > 0 {
		d *= 1 - s.config.Jitter + 2*s.config.Jitter*rand.Float64()
	}
	return time.Duration(d)
}

// --------------------------------------------------------------------------
// Fail Fast
// --------------------------------------------------------------------------

// FailFast never retries
type FailFast struct{}

// ShouldRetry implements kv.RetryStrategy
func (FailFast) ShouldRetry(kv.RetryState, kv.ErrorKind) kv.RetryDecision {
	return kv.GiveUp
}
