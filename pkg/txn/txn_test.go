package txn

import (
	"context"
	"testing"
	"time"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/lockmgr"
	"github.com/coraldb/coral/pkg/mvcc"
	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager() *Manager {
	return New(lockmgr.New(), mvcc.New())
}

func aliceRow() types.Row {
	return types.Row{PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{
		"name": types.TextValue("Alice"),
	}}
}

func TestReadUncommittedSeesOwnUncommittedWrite(t *testing.T) {
	m := newManager()
	writer := m.Begin(1, types.ReadUncommitted, 0)
	require.NoError(t, m.Write(context.Background(), writer, "users", types.IntegerValue(1), aliceRow()))

	reader := m.Begin(2, types.ReadUncommitted, 0)
	got, ok, err := m.Read(reader, "users", types.IntegerValue(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", string(got.Columns["name"].Str))
}

func TestReadCommittedDoesNotSeeUncommittedWrite(t *testing.T) {
	m := newManager()
	writer := m.Begin(1, types.ReadUncommitted, 0)
	require.NoError(t, m.Write(context.Background(), writer, "users", types.IntegerValue(1), aliceRow()))

	reader := m.Begin(2, types.ReadCommitted, 0)
	_, ok, err := m.Read(reader, "users", types.IntegerValue(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadCommittedSeesCommittedWriteImmediately(t *testing.T) {
	m := newManager()
	writer := m.Begin(1, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), writer, "users", types.IntegerValue(1), aliceRow()))
	require.NoError(t, m.Commit(writer, 10))

	reader := m.Begin(2, types.ReadCommitted, 0)
	got, ok, err := m.Read(reader, "users", types.IntegerValue(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", string(got.Columns["name"].Str))
}

func TestRepeatableReadPinsSnapshot(t *testing.T) {
	m := newManager()
	writer := m.Begin(1, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), writer, "users", types.IntegerValue(1), aliceRow()))
	require.NoError(t, m.Commit(writer, 10))

	reader := m.Begin(2, types.RepeatableRead, 10)
	_, ok, err := m.Read(reader, "users", types.IntegerValue(1))
	require.NoError(t, err)
	require.True(t, ok)

	updater := m.Begin(3, types.ReadCommitted, 10)
	require.NoError(t, m.Write(context.Background(), updater, "users", types.IntegerValue(1), types.Row{
		PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Bob")},
	}))
	require.NoError(t, m.Commit(updater, 20))

	got, ok, err := m.Read(reader, "users", types.IntegerValue(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", string(got.Columns["name"].Str), "RepeatableRead must not see a version committed after the snapshot")
}

func TestSerializableCommitFailsOnConcurrentModification(t *testing.T) {
	m := newManager()
	seed := m.Begin(1, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), seed, "users", types.IntegerValue(1), aliceRow()))
	require.NoError(t, m.Commit(seed, 10))

	reader := m.Begin(2, types.Serializable, 10)
	_, _, err := m.Read(reader, "users", types.IntegerValue(1))
	require.NoError(t, err)

	// A second, unrelated transaction commits a new version of the same
	// row after reader's snapshot.
	writer := m.Begin(3, types.ReadCommitted, 10)
	require.NoError(t, m.Write(context.Background(), writer, "users", types.IntegerValue(1), types.Row{
		PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Bob")},
	}))
	require.NoError(t, m.Commit(writer, 20))

	err = m.Commit(reader, 30)
	assert.ErrorIs(t, err, coralerr.ErrSerializationFailure)
	assert.Equal(t, types.TxAborted, reader.State, "a failed serializable commit must leave the transaction aborted")
}

func TestSerializableCommitSucceedsWithoutConflict(t *testing.T) {
	m := newManager()
	seed := m.Begin(1, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), seed, "users", types.IntegerValue(1), aliceRow()))
	require.NoError(t, m.Commit(seed, 10))

	tx := m.Begin(2, types.Serializable, 10)
	_, _, err := m.Read(tx, "users", types.IntegerValue(1))
	require.NoError(t, err)
	require.NoError(t, m.Write(context.Background(), tx, "users", types.IntegerValue(2), aliceRow()))

	require.NoError(t, m.Commit(tx, 20))
	assert.Equal(t, types.TxCommitted, tx.State)
}

func TestAbortDiscardsWrites(t *testing.T) {
	m := newManager()
	tx := m.Begin(1, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), tx, "users", types.IntegerValue(1), aliceRow()))
	require.NoError(t, m.Abort(tx))

	reader := m.Begin(2, types.ReadCommitted, 0)
	_, ok, err := m.Read(reader, "users", types.IntegerValue(1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, types.TxAborted, tx.State)
}

func TestWriteWriteConflictBlocksUntilFirstWriterFinishes(t *testing.T) {
	m := newManager()
	tx1 := m.Begin(1, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), tx1, "users", types.IntegerValue(1), aliceRow()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tx2 := m.Begin(2, types.ReadCommitted, 0)
	done := make(chan error, 1)
	go func() {
		done <- m.Write(ctx, tx2, "users", types.IntegerValue(1), aliceRow())
	}()

	select {
	case <-done:
		t.Fatal("tx2's write must block until tx1 releases the row's exclusive lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.Commit(tx1, 10))
	assert.NoError(t, <-done)
}

// A transaction whose lock acquisition fails must be aborted on the
// spot, releasing the locks it already holds so peers blocked behind it
// can proceed — nothing may stay blocked behind a dead transaction.
func TestFailedAcquireAbortsTransactionAndReleasesHeldLocks(t *testing.T) {
	m := newManager()
	tx1 := m.Begin(1, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), tx1, "users", types.IntegerValue(1), aliceRow()))

	tx2 := m.Begin(2, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), tx2, "users", types.IntegerValue(2), aliceRow()))

	// tx2 blocks on row 1 (held by tx1) until its context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Write(ctx, tx2, "users", types.IntegerValue(1), aliceRow())
	require.Error(t, err)
	assert.Equal(t, types.TxAborted, tx2.State)

	// tx2's abort must have released its lock on row 2; tx1 can take it
	// without waiting.
	require.NoError(t, m.Write(context.Background(), tx1, "users", types.IntegerValue(2), aliceRow()))
}

// The deadlock victim is aborted inside the failed Write itself; the
// surviving transaction's blocked acquisition completes without any
// further intervention.
func TestDeadlockVictimIsAbortedAndPeerProceeds(t *testing.T) {
	m := newManager()
	tx1 := m.Begin(1, types.ReadCommitted, 0)
	tx2 := m.Begin(2, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), tx1, "users", types.IntegerValue(1), aliceRow()))
	require.NoError(t, m.Write(context.Background(), tx2, "users", types.IntegerValue(2), aliceRow()))

	done := make(chan error, 1)
	go func() {
		done <- m.Write(context.Background(), tx1, "users", types.IntegerValue(2), aliceRow())
	}()
	time.Sleep(20 * time.Millisecond) // let tx1 block on row 2 first

	err := m.Write(context.Background(), tx2, "users", types.IntegerValue(1), aliceRow())
	var deadlock *coralerr.DeadlockError
	require.ErrorAs(t, err, &deadlock)
	assert.EqualValues(t, 2, deadlock.Victim, "the younger (larger id) transaction loses the cycle")
	assert.Equal(t, types.TxAborted, tx2.State)

	select {
	case err := <-done:
		assert.NoError(t, err, "the survivor must acquire the lock the victim's abort released")
	case <-time.After(time.Second):
		t.Fatal("peer transaction stayed blocked after the victim was aborted")
	}
	require.NoError(t, m.Commit(tx1, 10))
}

func TestMinActiveSnapshotTsTracksOldestActiveTx(t *testing.T) {
	m := newManager()
	m.Begin(1, types.RepeatableRead, 5)
	m.Begin(2, types.RepeatableRead, 15)

	assert.Equal(t, uint64(5), m.MinActiveSnapshotTs(100))
}

func TestAbortAllAbortsEveryActiveTransaction(t *testing.T) {
	m := newManager()
	tx1 := m.Begin(1, types.ReadCommitted, 0)
	tx2 := m.Begin(2, types.ReadCommitted, 0)
	require.NoError(t, m.Write(context.Background(), tx1, "users", types.IntegerValue(1), aliceRow()))
	require.NoError(t, m.Write(context.Background(), tx2, "users", types.IntegerValue(2), aliceRow()))

	m.AbortAll()
	assert.Empty(t, m.Active())
	assert.Equal(t, types.TxAborted, tx1.State)
	assert.Equal(t, types.TxAborted, tx2.State)
}
