package retry

import (
	"testing"
	"time"

	"github.com/ValentinKolb/kvcore/lib/kv"
)

func TestBestEffortClassification(t *testing.T) {
	tests := []struct {
		name       string
		config     BestEffortConfig
		kind       kv.ErrorKind
		idempotent bool
		want       bool
	}{
		{"node unavailable", BestEffortConfig{}, kv.KindNodeUnavailable, false, true},
		{"retryable idempotent", BestEffortConfig{}, kv.KindRetryable, true, true},
		{"retryable non idempotent", BestEffortConfig{}, kv.KindRetryable, false, false},
		{"retryable non idempotent opt in", BestEffortConfig{RetryNonIdempotent: true}, kv.KindRetryable, false, true},
		{"cas mismatch", BestEffortConfig{}, kv.KindCasMismatch, true, false},
		{"cas mismatch opt in", BestEffortConfig{RetryCasMismatch: true}, kv.KindCasMismatch, false, true},
		{"invalid argument", BestEffortConfig{}, kv.KindInvalidArgument, true, false},
		{"cancelled", BestEffortConfig{}, kv.KindCancelled, true, false},
		{"timeout", BestEffortConfig{}, kv.KindTimeout, true, false},
		{"encoding", BestEffortConfig{}, kv.KindEncodingFailure, true, false},
		{"decoding", BestEffortConfig{}, kv.KindDecodingFailure, true, false},
		{"protocol", BestEffortConfig{}, kv.KindProtocolError, true, false},
		{"exists", BestEffortConfig{}, kv.KindDocumentExists, true, false},
		{"not found", BestEffortConfig{}, kv.KindDocumentNotFound, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBestEffort(tt.config)
			got := s.ShouldRetry(kv.RetryState{Attempts: 1, Idempotent: tt.idempotent}, tt.kind)
			if got.Retry != tt.want {
				t.Errorf("ShouldRetry(%s).Retry = %v, want %v", tt.kind, got.Retry, tt.want)
			}
		})
	}
}

func TestBestEffortMaxAttempts(t *testing.T) {
	s := NewBestEffort(BestEffortConfig{MaxAttempts: 3})

	for attempts := 1; attempts < 3; attempts++ {
		if d := s.ShouldRetry(kv.RetryState{Attempts: attempts}, kv.KindNodeUnavailable); !d.Retry {
			t.Errorf("ShouldRetry() after %d attempts = give up, want retry", attempts)
		}
	}
	if d := s.ShouldRetry(kv.RetryState{Attempts: 3}, kv.KindNodeUnavailable); d.Retry {
		t.Errorf("ShouldRetry() after 3 attempts = retry, want give up")
	}
}

func TestBestEffortBackoff(t *testing.T) {
	s := NewBestEffort(BestEffortConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     80 * time.Millisecond,
		Factor:         2,
		Jitter:         0.1,
	})

	tests := []struct {
		attempts int
		base     time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 80 * time.Millisecond},
		{10, 80 * time.Millisecond},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			got := s.Backoff(tt.attempts)
			lo := time.Duration(float64(tt.base) * 0.9)
			hi := time.Duration(float64(tt.base) * 1.1)
			if got < lo || got > hi {
				t.Errorf("Backoff(%d) = %s, want within [%s, %s]", tt.attempts, got, lo, hi)
			}
		}
	}
}

func TestFailFast(t *testing.T) {
	for _, kind := range []kv.ErrorKind{kv.KindNodeUnavailable, kv.KindRetryable, kv.KindCasMismatch} {
		if d := (FailFast{}).ShouldRetry(kv.RetryState{Attempts: 1, Idempotent: true}, kind); d.Retry {
			t.Errorf("FailFast.ShouldRetry(%s) = retry, want give up", kind)
		}
	}
}
