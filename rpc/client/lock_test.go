package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/ValentinKolb/kvcore/rpc/common"
)

func TestTryAcquire(t *testing.T) {
	tests := []struct {
		name    string
		respond responder
		wantOK  bool
		wantErr error
	}{
		{"free", success, true, nil},
		{"locked by someone else", statusReply(common.StatusLocked), false, nil},
		{"tmpfail", statusReply(common.StatusTmpFail), false, kv.ErrRetryable},
		{"out of memory", statusReply(common.StatusOutOfMemory), false, kv.ErrRetryable},
		{"busy", statusReply(common.StatusBusy), false, kv.ErrRetryable},
		{"missing", statusReply(common.StatusKeyNotFound), false, kv.ErrDocumentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			ft.setResponder(tt.respond)
			c := newTestCore(t, ft)
			locker := NewLocker(c.Collection("", ""))

			lock, ok, err := locker.TryAcquire(context.Background(), "mutex", time.Second)
			if ok != tt.wantOK {
				t.Errorf("TryAcquire() ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("TryAcquire() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("TryAcquire() error = %v, want %v", err, tt.wantErr)
			}
			if ok && (lock == nil || lock.Cas != 77) {
				t.Errorf("TryAcquire() lock = %+v, want cas 77", lock)
			}
			if got := len(ft.frames()); got != 1 {
				t.Errorf("frames written = %d, want 1", got)
			}
		})
	}
}
