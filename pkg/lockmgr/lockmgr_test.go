package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(pk string) types.RowKey { return types.RowKey{Table: "t", PK: pk} }

func TestSharedLocksAreCompatible(t *testing.T) {
	m := New()
	k := key("a")

	require.NoError(t, m.Acquire(context.Background(), 1, k, Shared, 0))
	require.NoError(t, m.Acquire(context.Background(), 2, k, Shared, 0))

	assert.ElementsMatch(t, []types.RowKey{k}, m.HeldKeys(1))
	assert.ElementsMatch(t, []types.RowKey{k}, m.HeldKeys(2))
}

func TestExclusiveBlocksUntilRelease(t *testing.T) {
	m := New()
	k := key("a")

	require.NoError(t, m.Acquire(context.Background(), 1, k, Exclusive, 0))

	done := make(chan error, 1)
	go func() {
		done <- m.Acquire(context.Background(), 2, k, Exclusive, 0)
	}()

	select {
	case <-done:
		t.Fatal("tx 2 should not have acquired the lock while tx 1 holds it")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(1)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tx 2 never acquired the lock after tx 1 released it")
	}
}

func TestReacquireSameTxUpgradesMode(t *testing.T) {
	m := New()
	k := key("a")

	require.NoError(t, m.Acquire(context.Background(), 1, k, Shared, 0))
	require.NoError(t, m.Acquire(context.Background(), 1, k, Exclusive, 0))
	assert.Len(t, m.HeldKeys(1), 1, "re-acquiring the same key must not duplicate the held-keys entry")
}

func TestFIFOOrderingAmongWaiters(t *testing.T) {
	m := New()
	k := key("a")
	require.NoError(t, m.Acquire(context.Background(), 1, k, Exclusive, 0))

	order := make(chan types.TxId, 2)
	go func() {
		_ = m.Acquire(context.Background(), 2, k, Exclusive, 0)
		order <- 2
		m.Release(2)
	}()
	time.Sleep(20 * time.Millisecond) // let tx 2 enqueue first
	go func() {
		_ = m.Acquire(context.Background(), 3, k, Exclusive, 0)
		order <- 3
		m.Release(3)
	}()
	time.Sleep(20 * time.Millisecond) // let tx 3 enqueue second

	m.Release(1)

	first := <-order
	second := <-order
	assert.Equal(t, types.TxId(2), first)
	assert.Equal(t, types.TxId(3), second)
}

func TestLockTimeout(t *testing.T) {
	m := New()
	k := key("a")
	require.NoError(t, m.Acquire(context.Background(), 1, k, Exclusive, 0))

	err := m.Acquire(context.Background(), 2, k, Exclusive, 20*time.Millisecond)
	assert.ErrorIs(t, err, coralerr.ErrLockTimeout)
}

func TestContextCancellationReleasesWaitEdge(t *testing.T) {
	m := New()
	k := key("a")
	require.NoError(t, m.Acquire(context.Background(), 1, k, Exclusive, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Acquire(ctx, 2, k, Exclusive, 0)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire never returned")
	}

	// tx 3 must still be able to acquire after tx 1 releases: tx 2's
	// cancelled wait must not have left a stale wait-graph edge or queue
	// entry behind.
	m.Release(1)
	require.NoError(t, m.Acquire(context.Background(), 3, k, Exclusive, 0))
}

func TestDeadlockVictimIsLargestTxId(t *testing.T) {
	m := New()
	a, b := key("a"), key("b")

	require.NoError(t, m.Acquire(context.Background(), 1, a, Exclusive, 0))
	require.NoError(t, m.Acquire(context.Background(), 2, b, Exclusive, 0))

	// tx 1 waits on b (held by tx 2); tx 2 then waits on a (held by tx 1),
	// closing the cycle 1 -> 2 -> 1. The victim must be tx 2, the larger id.
	tx1Err := make(chan error, 1)
	go func() {
		tx1Err <- m.Acquire(context.Background(), 1, b, Exclusive, 0)
	}()
	time.Sleep(20 * time.Millisecond)

	err := m.Acquire(context.Background(), 2, a, Exclusive, 0)
	var deadlock *coralerr.DeadlockError
	require.ErrorAs(t, err, &deadlock)
	assert.EqualValues(t, 2, deadlock.Victim)

	// Choosing a victim cancels only its pending wait; releasing the
	// locks it already holds is its owner's job (pkg/txn aborts the
	// victim on the failed acquire, and abort releases). Stand in for
	// the owner at this layer.
	m.Release(2)

	select {
	case err := <-tx1Err:
		assert.NoError(t, err, "tx 1 should win the cycle and acquire b once tx 2 is aborted")
	case <-time.After(time.Second):
		t.Fatal("tx 1's Acquire never resolved after the deadlock victim was chosen")
	}
}

func TestReleaseDropsEveryHeldKeyForReacquisition(t *testing.T) {
	m := New()
	a, b := key("a"), key("b")

	require.NoError(t, m.Acquire(context.Background(), 1, a, Exclusive, 0))
	require.NoError(t, m.Acquire(context.Background(), 1, b, Exclusive, 0))
	assert.Equal(t, []types.RowKey{a, b}, m.HeldKeys(1))

	m.Release(1)
	assert.Empty(t, m.HeldKeys(1))

	require.NoError(t, m.Acquire(context.Background(), 2, a, Exclusive, 0))
	require.NoError(t, m.Acquire(context.Background(), 2, b, Exclusive, 0))
}
