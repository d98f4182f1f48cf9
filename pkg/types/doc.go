/*
Package types defines the data model shared by the state machine, MVCC
store, lock manager, snapshot provider and consensus bridge.

# Core Types

Log payload:
  - ReplicatedCommand: the closed tagged-union of every mutation the
    system admits (CreateTable/DropTable/AlterTable, Insert/Update/Delete,
    CreateIndex/DropIndex, BeginTx/CommitTx/AbortTx).
  - CommandBatch: the atomic unit of consensus-log payload.
  - BatchResult: the idempotent-replay-safe, cached outcome of applying a
    CommandBatch.

Row model:
  - Value: closed variant over Integer/Float/Text/Boolean/Date/Timestamp/
    TsVector/Null, with a canonical total-ordered float encoding (see
    float.go) used both for equality and for consensus-log determinism.
  - Row, Schema, ColumnDef: table contents and their declared shape.

Concurrency bookkeeping:
  - Transaction, TxState, IsolationLevel: the Transaction Manager's view
    of a live transaction.
  - MVCCVersion, RowKey: one entry in a row's version chain and the key
    that identifies the chain.

Snapshot:
  - SnapshotMeta, SnapshotData, TableSnapshot: the Snapshot Provider's
    on-the-wire and on-disk representation of complete state.

All types here are plain data; the behavior that operates on them lives in
pkg/mvcc, pkg/lockmgr, pkg/txn, pkg/statemachine and pkg/snapshot.
*/
package types
