package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/storage"
	"github.com/coraldb/coral/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSM(t *testing.T) *StateMachine {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func usersSchema() types.Schema {
	return types.Schema{
		Columns: []types.ColumnDef{
			{Name: "id", Type: types.ColumnInteger},
			{Name: "name", Type: types.ColumnText, Nullable: true},
		},
		PrimaryKey: "id",
	}
}

func createUsersBatch(id types.CommandId) types.CommandBatch {
	return types.CommandBatch{Id: id, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdCreateTable, Table: "users", Schema: usersSchema()},
	}}
}

func insertUserBatch(id types.CommandId, pk int64, name string) types.CommandBatch {
	return types.CommandBatch{Id: id, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdInsert, Table: "users", Row: types.Row{
			PK:      types.IntegerValue(pk),
			Columns: map[types.ColumnName]types.Value{"name": types.TextValue(name)},
		}},
	}}
}

// Idempotent replay: applying the exact same batch id twice must not insert
// twice and must return the cached result instead of reapplying it.
func TestApplyBatchIsIdempotentOnReplay(t *testing.T) {
	sm := newTestSM(t)

	res := sm.ApplyBatch(createUsersBatch(1))
	require.Nil(t, res.Err)

	res = sm.ApplyBatch(insertUserBatch(2, 1, "Alice"))
	require.Nil(t, res.Err)

	row, ok := sm.ReadCommitted("users", types.IntegerValue(1))
	require.True(t, ok)
	assert.Equal(t, "Alice", row.Columns["name"].Str)

	// Replay batch 2 verbatim: must be a no-op that returns the cached
	// result rather than erroring on a duplicate PK.
	replay := sm.ApplyBatch(insertUserBatch(2, 1, "Alice"))
	assert.Nil(t, replay.Err)

	rows, err := sm.Store().Scan("users")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// An autocommit write must be visible through ReadCommitted immediately,
// reconciling the dual Storage/MVCC write paths.
func TestAutocommitInsertVisibleThroughReadCommitted(t *testing.T) {
	sm := newTestSM(t)
	require.Nil(t, sm.ApplyBatch(createUsersBatch(1)).Err)
	require.Nil(t, sm.ApplyBatch(insertUserBatch(2, 7, "Bob")).Err)

	row, ok := sm.ReadCommitted("users", types.IntegerValue(7))
	require.True(t, ok)
	assert.Equal(t, "Bob", row.Columns["name"].Str)

	stored, found, err := sm.Store().Get("users", types.IntegerValue(7))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Bob", stored.Columns["name"].Str)
}

// A batch where a later command fails must roll back every earlier
// command's effect, in both Storage and MVCC.
func TestBatchFailureRollsBackEarlierCommands(t *testing.T) {
	sm := newTestSM(t)
	require.Nil(t, sm.ApplyBatch(createUsersBatch(1)).Err)

	batch := types.CommandBatch{Id: 2, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdInsert, Table: "users", Row: types.Row{
			PK:      types.IntegerValue(1),
			Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Alice")},
		}},
		{Kind: types.CmdCreateTable, Table: "users", Schema: usersSchema()}, // fails: already exists
	}}
	res := sm.ApplyBatch(batch)
	require.Error(t, res.Err)

	_, ok := sm.ReadCommitted("users", types.IntegerValue(1))
	assert.False(t, ok)
	rows, err := sm.Store().Scan("users")
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

// Snapshot / restore cutover: state captured up to a point, restored into a
// fresh instance, pre-snapshot batches replay as no-ops, post-snapshot
// batches still apply normally.
func TestSnapshotCutoverAndRestore(t *testing.T) {
	sm := newTestSM(t)
	require.Nil(t, sm.ApplyBatch(createUsersBatch(1)).Err)
	for i := int64(1); i <= 5; i++ {
		require.Nil(t, sm.ApplyBatch(insertUserBatch(types.CommandId(i+1), i, "u")).Err)
	}

	snapBytes, err := sm.CreateSnapshotBytes()
	require.NoError(t, err)

	fresh := newTestSM(t)
	require.NoError(t, fresh.InstallSnapshotBytes(snapBytes))

	assert.Equal(t, sm.LastApplied(), fresh.LastApplied())
	for i := int64(1); i <= 5; i++ {
		_, ok := fresh.ReadCommitted("users", types.IntegerValue(i))
		assert.True(t, ok)
	}

	// Replaying a pre-snapshot batch against the restored instance must be
	// recognized as already applied, not reapplied.
	assert.True(t, fresh.AlreadyApplied(3))

	// Re-applying a pre-snapshot batch through ApplyBatch
	// itself (not just AlreadyApplied) must return the synthesized
	// "already applied" success, never re-execute the Insert and surface
	// a duplicate-PK ConstraintViolation.
	replay := fresh.ApplyBatch(insertUserBatch(3, 2, "u"))
	assert.Nil(t, replay.Err)

	require.Nil(t, fresh.ApplyBatch(insertUserBatch(7, 100, "new")).Err)
	_, ok := fresh.ReadCommitted("users", types.IntegerValue(100))
	assert.True(t, ok)
}

// Serializable abort: T1 takes a snapshot, reads a row. T2 begins, writes
// that same row and commits. T1 then attempts to commit and must fail with
// SerializationFailure because its read set is now stale.
func TestSerializableTransactionAbortsOnReadSetConflict(t *testing.T) {
	sm := newTestSM(t)
	require.Nil(t, sm.ApplyBatch(createUsersBatch(1)).Err)
	require.Nil(t, sm.ApplyBatch(insertUserBatch(2, 1, "Alice")).Err)

	require.Nil(t, sm.ApplyBatch(types.CommandBatch{Id: 3, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdBeginTx, TxId: 1, Isolation: types.Serializable},
	}}).Err)

	tx1, ok := sm.TxManager().Lookup(1)
	require.True(t, ok)
	_, _, err := sm.TxManager().Read(tx1, "users", types.IntegerValue(1))
	require.NoError(t, err)

	require.Nil(t, sm.ApplyBatch(types.CommandBatch{Id: 4, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdBeginTx, TxId: 2, Isolation: types.Serializable},
		{Kind: types.CmdUpdate, TxId: 2, Table: "users", Predicate: types.Predicate{PK: types.IntegerValue(1)},
			Assignments: map[types.ColumnName]types.Value{"name": types.TextValue("Carol")}},
		{Kind: types.CmdCommitTx, TxId: 2},
	}}).Err)

	row, ok := sm.ReadCommitted("users", types.IntegerValue(1))
	require.True(t, ok)
	assert.Equal(t, "Carol", row.Columns["name"].Str)

	res := sm.ApplyBatch(types.CommandBatch{Id: 5, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdUpdate, TxId: 1, Table: "users", Predicate: types.Predicate{PK: types.IntegerValue(1)},
			Assignments: map[types.ColumnName]types.Value{"name": types.TextValue("Dave")}},
		{Kind: types.CmdCommitTx, TxId: 1},
	}})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, coralerr.ErrSerializationFailure)

	// T1's aborted write must not have reached Storage.
	row, ok = sm.ReadCommitted("users", types.IntegerValue(1))
	require.True(t, ok)
	assert.Equal(t, "Carol", row.Columns["name"].Str)
}

// A transactional write only becomes durable in Storage once its CommitTx
// succeeds; an aborted transaction must leave Storage untouched.
func TestTransactionalWriteFlushesToStorageOnCommit(t *testing.T) {
	sm := newTestSM(t)
	require.Nil(t, sm.ApplyBatch(createUsersBatch(1)).Err)

	require.Nil(t, sm.ApplyBatch(types.CommandBatch{Id: 2, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdBeginTx, TxId: 9, Isolation: types.RepeatableRead},
		{Kind: types.CmdInsert, TxId: 9, Table: "users", Row: types.Row{
			PK:      types.IntegerValue(42),
			Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Staged")},
		}},
	}}).Err)

	// Not yet committed: must not be in Storage.
	_, found, err := sm.Store().Get("users", types.IntegerValue(42))
	require.NoError(t, err)
	assert.False(t, found)

	require.Nil(t, sm.ApplyBatch(types.CommandBatch{Id: 3, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdCommitTx, TxId: 9},
	}}).Err)

	stored, found, err := sm.Store().Get("users", types.IntegerValue(42))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Staged", stored.Columns["name"].Str)
}

func TestAbortedTransactionLeavesStorageUntouched(t *testing.T) {
	sm := newTestSM(t)
	require.Nil(t, sm.ApplyBatch(createUsersBatch(1)).Err)

	require.Nil(t, sm.ApplyBatch(types.CommandBatch{Id: 2, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdBeginTx, TxId: 5, Isolation: types.RepeatableRead},
		{Kind: types.CmdInsert, TxId: 5, Table: "users", Row: types.Row{
			PK:      types.IntegerValue(11),
			Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Ghost")},
		}},
		{Kind: types.CmdAbortTx, TxId: 5},
	}}).Err)

	_, found, err := sm.Store().Get("users", types.IntegerValue(11))
	require.NoError(t, err)
	assert.False(t, found)
	_, ok := sm.ReadCommitted("users", types.IntegerValue(11))
	assert.False(t, ok)
}

// A log entry this replica cannot decode must trip the fatal hook — on
// whichever node applies it, not just the proposer — and still surface a
// FatalError for hookless callers.
func TestApplyDecodeFailureTripsFatalHook(t *testing.T) {
	sm := newTestSM(t)
	var hookErr error
	sm.SetFatalHook(func(err error) { hookErr = err })

	resp := sm.Apply(&raft.Log{Data: []byte("garbage")})

	fatal, ok := resp.(*coralerr.FatalError)
	require.True(t, ok, "a corrupt entry must come back as a FatalError, not a BatchResult")
	assert.True(t, coralerr.IsFatal(fatal))
	require.Error(t, hookErr)
	assert.ErrorIs(t, hookErr, coralerr.ErrLogCorruption)
}

// A snapshot this replica cannot decode is just as fatal as a corrupt log
// entry: the node could never catch up past it.
func TestInstallSnapshotDecodeFailureTripsFatalHook(t *testing.T) {
	sm := newTestSM(t)
	var hookErr error
	sm.SetFatalHook(func(err error) { hookErr = err })

	err := sm.InstallSnapshotBytes([]byte("not a snapshot"))
	require.Error(t, err)
	assert.True(t, coralerr.IsFatal(err))
	require.Error(t, hookErr)
}

// ReadIndexReady must return once the apply index catches up to the probe
// and must honor cancellation while it is still behind.
func TestReadIndexReadyWaitsForApply(t *testing.T) {
	sm := newTestSM(t)
	require.Nil(t, sm.ApplyBatch(createUsersBatch(1)).Err)

	// Already caught up: returns immediately.
	require.NoError(t, sm.ReadIndexReady(context.Background(), 1))

	// Behind: a bounded context must cancel the wait rather than spin.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sm.ReadIndexReady(ctx, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Applying the missing batch unblocks a concurrent waiter.
	done := make(chan error, 1)
	go func() {
		done <- sm.ReadIndexReady(context.Background(), 2)
	}()
	require.Nil(t, sm.ApplyBatch(insertUserBatch(2, 1, "Alice")).Err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadIndexReady never observed the apply index catching up")
	}
}

// Recovery equivalence: a fresh instance that installs a mid-stream
// snapshot and replays the remaining batches reaches the same visible
// state as one that replayed the entire batch stream from scratch.
func TestRecoveryEquivalenceBetweenSnapshotReplayAndFullReplay(t *testing.T) {
	batches := []types.CommandBatch{createUsersBatch(1)}
	for i := int64(1); i <= 10; i++ {
		batches = append(batches, insertUserBatch(types.CommandId(i+1), i, "u"))
	}

	full := newTestSM(t)
	for _, b := range batches {
		require.Nil(t, full.ApplyBatch(b).Err)
	}

	partial := newTestSM(t)
	for _, b := range batches[:6] {
		require.Nil(t, partial.ApplyBatch(b).Err)
	}
	snapBytes, err := partial.CreateSnapshotBytes()
	require.NoError(t, err)

	recovered := newTestSM(t)
	require.NoError(t, recovered.InstallSnapshotBytes(snapBytes))
	for _, b := range batches[6:] {
		require.Nil(t, recovered.ApplyBatch(b).Err)
	}

	for i := int64(1); i <= 10; i++ {
		want, wantOk := full.ReadCommitted("users", types.IntegerValue(i))
		got, gotOk := recovered.ReadCommitted("users", types.IntegerValue(i))
		require.Equal(t, wantOk, gotOk)
		if wantOk {
			assert.Equal(t, want.Columns["name"].Str, got.Columns["name"].Str)
		}
	}
	assert.Equal(t, full.LastApplied(), recovered.LastApplied())
}
