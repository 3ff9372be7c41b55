package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/ValentinKolb/kvcore/lib/retry"
	"github.com/ValentinKolb/kvcore/rpc/common"
)

// Lock is a pessimistic lock held on a document
type Lock struct {
	ID    string
	Cas   uint64
	Until time.Time
}

// Locker takes pessimistic locks on documents with get-and-lock and releases
// them with unlock. A lock that is not released expires after its lock time.
type Locker struct {
	col *Collection
}

// NewLocker creates a locker for the documents of col
func NewLocker(col *Collection) *Locker {
	return &Locker{col: col}
}

// TryAcquire tries to lock id once. ok is false if the document is locked by
// someone else. A missing document yields DocumentNotFound.
func (l *Locker) TryAcquire(ctx context.Context, id string, lockTime time.Duration) (lock *Lock, ok bool, err error) {
	start := time.Now()
	res, err := l.col.GetAndLock(ctx, id, lockTime, &Options{Retry: retry.FailFast{}})
	if isLocked(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &Lock{ID: id, Cas: res.Cas, Until: start.Add(lockTime)}, true, nil
}

// Acquire locks id, waiting for a lock held by someone else until ctx is done
func (l *Locker) Acquire(ctx context.Context, id string, lockTime time.Duration) (*Lock, error) {
	backoff := retry.NewBestEffort(retry.DefaultBestEffortConfig())
	for attempt := 1; ; attempt++ {
		lock, ok, err := l.TryAcquire(ctx, id, lockTime)
		if err != nil || ok {
			return lock, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("document %q is still locked after %d attempts: %w", id, attempt, context.Cause(ctx))
		case <-time.After(backoff.Backoff(attempt)):
		}
	}
}

// Release unlocks a document locked by Acquire. It returns false if the lock
// was lost, because it expired or the document was changed.
func (l *Locker) Release(ctx context.Context, lock *Lock) (bool, error) {
	err := l.col.Unlock(ctx, lock.ID, lock.Cas, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kv.ErrCasMismatch), errors.Is(err, kv.ErrProtocolError), errors.Is(err, kv.ErrDocumentNotFound):
		return false, nil
	default:
		return false, err
	}
}

// isLocked reports whether err is the answer for a document locked by someone
// else. Other temporary failures are not.
func isLocked(err error) bool {
	var kvErr *kv.Error
	return errors.As(err, &kvErr) && kvErr.Context.Status == uint16(common.StatusLocked)
}
