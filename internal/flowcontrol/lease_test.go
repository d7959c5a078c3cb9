// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package flowcontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeaseWindow_NoLeaseRejects(t *testing.T) {
	w := NewLeaseWindow()
	require.ErrorIs(t, w.Admit(), ErrRejectedNoLease)
}

func TestLeaseWindow_AdmitsWithinPermits(t *testing.T) {
	w := NewLeaseWindow()
	w.Update(Lease{TimeToLive: time.Minute, PermittedRequests: 2, IssuedAt: time.Now()})

	require.NoError(t, w.Admit())
	require.NoError(t, w.Admit())
	require.ErrorIs(t, w.Admit(), ErrRejectedNoLease, "expected rejection after permits exhausted")
}

func TestLeaseWindow_ExpiresByTTL(t *testing.T) {
	w := NewLeaseWindow()
	w.Update(Lease{TimeToLive: 10 * time.Millisecond, PermittedRequests: 100, IssuedAt: time.Now()})
	time.Sleep(20 * time.Millisecond)

	require.ErrorIs(t, w.Admit(), ErrRejectedNoLease, "expected rejection after TTL expiry")
}

func TestLeaseWindow_UpdateReplacesNotAugments(t *testing.T) {
	w := NewLeaseWindow()
	w.Update(Lease{TimeToLive: time.Minute, PermittedRequests: 1, IssuedAt: time.Now()})
	w.Update(Lease{TimeToLive: time.Minute, PermittedRequests: 5, IssuedAt: time.Now()})

	count := 0
	for w.Admit() == nil {
		count++
		if count > 10 {
			break
		}
	}
	require.Equal(t, 5, count, "expected exactly 5 permits from the replacing lease")
}

func TestLeaseWindow_ZeroPermitsNeverAdmits(t *testing.T) {
	w := NewLeaseWindow()
	w.Update(Lease{TimeToLive: time.Minute, PermittedRequests: 0, IssuedAt: time.Now()})
	require.ErrorIs(t, w.Admit(), ErrRejectedNoLease, "expected rejection with zero permits")
}

func TestLeaseWindow_WaitBlocksUntilPermitFrees(t *testing.T) {
	w := NewLeaseWindow()
	w.Update(Lease{TimeToLive: 100 * time.Millisecond, PermittedRequests: 1, IssuedAt: time.Now()})

	require.NoError(t, w.Admit())

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		done <- w.Wait(ctx)
	}()

	select {
	case err := <-done:
		require.NoError(t, err, "expected the waiter to be admitted once the token bucket refills")
	case <-time.After(800 * time.Millisecond):
		t.Fatal("Wait never returned")
	}
}
