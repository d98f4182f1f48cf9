// Package txn implements the Transaction Manager: it keeps per-
// transaction bookkeeping, tracks isolation level, and coordinates with
// the Lock Manager and MVCC Version Store to make commit/abort
// serializable. Logical timestamps (snapshot_ts, commit_ts) are supplied
// by the caller (the state machine's apply path) rather than read from
// the system clock, since determinism requires every MVCC timestamp to
// derive from the batch id.
package txn

import (
	"context"
	"sync"
	"time"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/lockmgr"
	"github.com/coraldb/coral/pkg/mvcc"
	"github.com/coraldb/coral/pkg/types"
)

// DefaultLockTimeout bounds a blocking row-lock acquisition. The bound
// is optional per call; the apply path always supplies one so a
// hung lock wait cannot stall replication indefinitely.
const DefaultLockTimeout = 5 * time.Second

// Manager is the Transaction Manager for one state machine instance.
type Manager struct {
	mu    sync.Mutex
	txs   map[types.TxId]*types.Transaction
	locks *lockmgr.Manager
	mvcc  *mvcc.Store
}

func New(locks *lockmgr.Manager, store *mvcc.Store) *Manager {
	return &Manager{
		txs:   make(map[types.TxId]*types.Transaction),
		locks: locks,
		mvcc:  store,
	}
}

// Begin registers a new transaction. id and snapshotTs are assigned by the
// caller (the BeginTx command's tx_id and the apply path's logical clock),
// not generated here, so the result is a pure function of the command
// stream.
func (m *Manager) Begin(id types.TxId, isolation types.IsolationLevel, snapshotTs uint64) *types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &types.Transaction{
		Id:         id,
		Isolation:  isolation,
		State:      types.TxActive,
		SnapshotTs: snapshotTs,
		WriteSet:   make(map[types.RowKey]struct{}),
		ReadSet:    make(map[types.RowKey]struct{}),
	}
	m.txs[id] = tx
	return tx
}

// Read returns the row visible to tx for (table, pk), honoring the
// per-isolation-level visibility rules.
func (m *Manager) Read(tx *types.Transaction, table string, pk types.Value) (types.Row, bool, error) {
	key := mvcc.Key(table, pk)
	switch tx.Isolation {
	case types.ReadUncommitted:
		row, ok := m.mvcc.Get(key, ^uint64(0), true)
		return row, ok, nil
	case types.ReadCommitted:
		// "latest committed version at statement start": callers issue
		// one Read per statement, so "now" for that statement is simply
		// the current logical clock; apply_batch supplies the tick.
		row, ok := m.mvcc.Get(key, ^uint64(0), false)
		return row, ok, nil
	case types.RepeatableRead, types.Serializable:
		row, ok := m.mvcc.Get(key, tx.SnapshotTs, false)
		if tx.Isolation == types.Serializable {
			tx.ReadSet[key] = struct{}{}
		}
		return row, ok, nil
	default:
		return types.Row{}, false, coralerr.ErrInternal
	}
}

// Write stages a new version for (table, pk) under tx. For any isolation
// above ReadUncommitted this blocks until tx holds an exclusive lock on
// the row, per the write conflict policy for those levels. A failed
// acquisition (deadlock victim, timeout, cancellation) aborts tx on the
// spot — staged writes discarded, already-held locks released — so the
// caller gets a clean structured error and no peer transaction stays
// blocked behind a dead one.
func (m *Manager) Write(ctx context.Context, tx *types.Transaction, table string, pk types.Value, row types.Row) error {
	key := mvcc.Key(table, pk)
	if tx.Isolation != types.ReadUncommitted {
		if err := m.locks.Acquire(ctx, tx.Id, key, lockmgr.Exclusive, DefaultLockTimeout); err != nil {
			m.abortLocked(tx)
			return err
		}
	}
	m.mvcc.PutVersion(tx.Id, key, row)
	tx.WriteSet[key] = struct{}{}
	return nil
}

// Delete stages a tombstone for (table, pk) under tx, with the same
// locking and abort-on-failure policy as Write.
func (m *Manager) Delete(ctx context.Context, tx *types.Transaction, table string, pk types.Value) error {
	key := mvcc.Key(table, pk)
	if tx.Isolation != types.ReadUncommitted {
		if err := m.locks.Acquire(ctx, tx.Id, key, lockmgr.Exclusive, DefaultLockTimeout); err != nil {
			m.abortLocked(tx)
			return err
		}
	}
	m.mvcc.Tombstone(tx.Id, key)
	tx.WriteSet[key] = struct{}{}
	return nil
}

// Commit performs the commit path: for Serializable, validate the
// read set against the current chain before assigning commit_ts; stamp
// every write-set version; release locks; mark the transaction Committed.
func (m *Manager) Commit(tx *types.Transaction, commitTs uint64) error {
	if tx.Isolation == types.Serializable {
		if !m.mvcc.ReadSetStillValid(tx.ReadSet, tx.SnapshotTs) {
			m.abortLocked(tx)
			return coralerr.ErrSerializationFailure
		}
	}

	keys := make([]types.RowKey, 0, len(tx.WriteSet))
	for k := range tx.WriteSet {
		keys = append(keys, k)
	}
	m.mvcc.CommitVersions(tx.Id, keys, commitTs)
	m.locks.Release(tx.Id)

	tx.CommitTs = commitTs
	tx.State = types.TxCommitted

	m.mu.Lock()
	delete(m.txs, tx.Id)
	m.mu.Unlock()
	return nil
}

// Abort undoes every version in tx's write set, releases its locks, and
// marks it Aborted.
func (m *Manager) Abort(tx *types.Transaction) error {
	m.abortLocked(tx)
	return nil
}

func (m *Manager) abortLocked(tx *types.Transaction) {
	keys := make([]types.RowKey, 0, len(tx.WriteSet))
	for k := range tx.WriteSet {
		keys = append(keys, k)
	}
	m.mvcc.AbortVersions(tx.Id, keys)
	m.locks.Release(tx.Id)
	tx.State = types.TxAborted

	m.mu.Lock()
	delete(m.txs, tx.Id)
	m.mu.Unlock()
}

// Active returns every transaction still in the Active state, used by the
// maintenance loop to compute the minimum active snapshot timestamp for
// MVCC GC and to find abandoned transactions.
func (m *Manager) Active() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		out = append(out, tx)
	}
	return out
}

// MinActiveSnapshotTs returns the minimum SnapshotTs among active
// transactions, or currentTs if none are active. It is the GC watermark
// passed to mvcc.Store.GC.
func (m *Manager) MinActiveSnapshotTs(currentTs uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	min := currentTs
	for _, tx := range m.txs {
		if tx.SnapshotTs < min {
			min = tx.SnapshotTs
		}
	}
	return min
}

// AbortAll force-aborts every active transaction, used when a snapshot is
// installed and restore discards all in-flight transactions.
func (m *Manager) AbortAll() {
	for _, tx := range m.Active() {
		m.abortLocked(tx)
	}
}

// Lookup exposes a transaction by id for callers (the state machine) that
// need to dispatch CommitTx/AbortTx commands against it.
func (m *Manager) Lookup(id types.TxId) (*types.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	return tx, ok
}
