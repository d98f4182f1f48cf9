// Package statemachine implements the deterministic apply path: the
// sole mutation entry point for the whole system. It owns Storage, the Lock
// Manager, the MVCC Version Store and the Transaction Manager, and
// implements raft.FSM so it can be driven directly by the Consensus Bridge.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/coraldb/coral/pkg/codec"
	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/lockmgr"
	"github.com/coraldb/coral/pkg/mvcc"
	"github.com/coraldb/coral/pkg/snapshot"
	"github.com/coraldb/coral/pkg/storage"
	"github.com/coraldb/coral/pkg/txn"
	"github.com/coraldb/coral/pkg/types"
	"github.com/hashicorp/raft"
)

// DefaultResultCacheSize bounds the number of cached BatchResults retained
// in memory between snapshots. Older entries are trimmed in ascending
// CommandId order, which is safe because commands below a follower's
// apply index can never be replayed again short of a snapshot restore.
const DefaultResultCacheSize = 4096

// StateMachine is the apply path. A single mutex serializes every call
// to Apply, keeping the apply path single-threaded and sequential
// without relying on the caller (raft.Raft's FSM runner) to serialize
// on our behalf.
type StateMachine struct {
	mu sync.Mutex

	store storage.Store
	locks *lockmgr.Manager
	mvccS *mvcc.Store
	txMgr *txn.Manager

	appliedCommands map[types.CommandId]types.BatchResult
	cacheOrder      []types.CommandId
	nextCommandID   types.CommandId
	clock           uint64 // logical clock, advanced once per applied batch

	lastApplied types.CommandId

	// txWrites holds, per open transaction, the most recent pending write
	// per row key (table/pk/row/tombstone), staged by Insert/Update/Delete
	// commands that carry a nonzero TxId. It mirrors what pkg/mvcc already
	// tracks in its own pending overlay, but additionally remembers enough
	// (table name, typed PK, full row) to flush the transaction's effect
	// into Storage once CommitTx succeeds — MVCC alone is not durable
	// across a snapshot round-trip, only Storage is.
	txWrites map[types.TxId]map[types.RowKey]txWrite

	// onSnapshot / onRestore notify an observer (the Consensus Bridge's
	// event broker) after a snapshot or restore completes. Either may be
	// nil; StateMachine has no event-broker dependency of its own, so this
	// stays a plain callback rather than an import of pkg/events.
	onSnapshot func(types.SnapshotMeta)
	onRestore  func(types.SnapshotMeta)

	// onFatal is invoked for log corruption and snapshot version
	// mismatch, the two errors the process must exit on rather than skip
	// — skipping a log entry this replica cannot decode would silently
	// diverge it from the rest of the cluster. The hook is expected not
	// to return. It fires here, inside the state machine, because decode
	// failures are detected on every replica's apply path; the proposing
	// node's RPC response alone could never reach the followers that hit
	// the same corrupt entry.
	onFatal func(error)
}

// txWrite is one staged, not-yet-flushed row mutation belonging to an open
// transaction.
type txWrite struct {
	table     string
	pk        types.Value
	row       types.Row
	tombstone bool
}

// SetEventHooks wires onSnapshot/onRestore callbacks, invoked after
// snapshotNow/restoreNow release their lock. Called once at startup by
// the owner (pkg/manager), never from within StateMachine itself.
func (s *StateMachine) SetEventHooks(onSnapshot, onRestore func(types.SnapshotMeta)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSnapshot = onSnapshot
	s.onRestore = onRestore
}

// SetFatalHook wires the process-fatal callback. Called once at startup
// by the owner (pkg/manager wires it to an exit; standalone mode leaves
// it unset and refuses to start on a corrupt WAL instead).
func (s *StateMachine) SetFatalHook(onFatal func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFatal = onFatal
}

// reportFatal hands err to the fatal hook, which does not return when
// installed (it stops the process). Without a hook — tests, standalone
// boot — the error goes back to the caller, which must refuse to
// continue on its own.
func (s *StateMachine) reportFatal(err error) error {
	if s.onFatal != nil {
		s.onFatal(err)
	}
	return err
}

// New builds a StateMachine over the given Storage implementation. Lock
// Manager, MVCC store and Transaction Manager are constructed internally
// since they have no meaningful existence independent of one apply path.
func New(store storage.Store) *StateMachine {
	locks := lockmgr.New()
	mvccS := mvcc.New()
	return &StateMachine{
		store:           store,
		locks:           locks,
		mvccS:           mvccS,
		txMgr:           txn.New(locks, mvccS),
		appliedCommands: make(map[types.CommandId]types.BatchResult),
		nextCommandID:   1,
		txWrites:        make(map[types.TxId]map[types.RowKey]txWrite),
	}
}

// ApplyBatch applies one CommandBatch atomically and idempotently. It is
// also the function Apply (the raft.FSM entry point below) delegates to
// once a log entry has been decoded.
func (s *StateMachine) ApplyBatch(batch types.CommandBatch) types.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.appliedCommands[batch.Id]; ok {
		return cached
	}
	if batch.Id <= s.lastApplied {
		// Synthesized "already applied" result: restoreNow reset
		// appliedCommands to empty, so a batch.Id from before the restore's
		// snapshot index is a cache miss here, not a novel command. Without
		// this check it would fall through and re-execute, e.g. re-Insert
		// an already-present PK and return ConstraintViolation instead of
		// the success a replayed pre-snapshot batch must see.
		return types.BatchResult{Id: batch.Id}
	}

	s.clock++
	ts := s.clock

	results := make([]types.PerCommandResult, 0, len(batch.Commands))
	undo := make([]func(), 0, len(batch.Commands))

	var batchErr error
	for _, cmd := range batch.Commands {
		res, rollback, err := s.applyOne(cmd, ts)
		if err != nil {
			batchErr = err
			break
		}
		results = append(results, res)
		if rollback != nil {
			undo = append(undo, rollback)
		}
	}

	var out types.BatchResult
	if batchErr != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		out = types.BatchResult{Id: batch.Id, Err: batchErr}
	} else {
		out = types.BatchResult{Id: batch.Id, Results: results}
	}

	s.cacheResultLocked(batch.Id, out)
	if batch.Id+1 > s.nextCommandID {
		s.nextCommandID = batch.Id + 1
	}
	if batch.Id > s.lastApplied {
		s.lastApplied = batch.Id
	}

	s.mvccS.GC(s.txMgr.MinActiveSnapshotTs(ts))
	return out
}

// applyOne dispatches a single ReplicatedCommand. The returned rollback
// closure (nil when not needed) undoes the command's effect, used when a
// later command in the same batch fails.
func (s *StateMachine) applyOne(cmd types.ReplicatedCommand, ts uint64) (types.PerCommandResult, func(), error) {
	switch cmd.Kind {
	case types.CmdCreateTable:
		if err := s.store.CreateTable(cmd.Table, cmd.Schema); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		table := cmd.Table
		return types.PerCommandResult{}, func() { _ = s.store.DropTable(table) }, nil

	case types.CmdDropTable:
		schema, _ := s.store.TableSchema(cmd.Table)
		rows, _ := s.store.Scan(cmd.Table)
		if err := s.store.DropTable(cmd.Table); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		table := cmd.Table
		return types.PerCommandResult{}, func() {
			_ = s.store.CreateTable(table, schema)
			for _, r := range rows {
				_ = s.store.Insert(table, r)
			}
		}, nil

	case types.CmdAlterTable:
		// AlterTable takes a table-level exclusive latch rather than
		// row-level blocking; since the apply path is
		// already single-threaded, that latch is simply "no other
		// command runs concurrently", which is already true here.
		schema, _ := s.store.TableSchema(cmd.Table)
		if err := s.store.AlterTable(cmd.Table, cmd.Alter); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		table, op := cmd.Table, cmd.Alter
		return types.PerCommandResult{}, func() { _ = s.store.AlterTable(table, inverseAlterOp(op, schema)) }, nil

	case types.CmdInsert:
		if cmd.TxId != 0 {
			return s.applyTxWrite(cmd.TxId, cmd.Table, cmd.Row.PK, cmd.Row, false)
		}
		if err := s.store.Insert(cmd.Table, cmd.Row); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		table, pk, row := cmd.Table, cmd.Row.PK, cmd.Row
		key := mvcc.Key(table, pk)
		s.mvccS.PutVersion(0, key, row)
		s.mvccS.CommitVersions(0, []types.RowKey{key}, ts)
		return types.PerCommandResult{}, func() {
			_ = s.store.Delete(table, pk)
			s.mvccS.Uncommit(key, ts)
		}, nil

	case types.CmdUpdate:
		if cmd.TxId != 0 {
			tx, ok := s.txMgr.Lookup(cmd.TxId)
			if !ok {
				err := fmt.Errorf("%w: update under unknown tx %d", coralerr.ErrInternal, cmd.TxId)
				return types.PerCommandResult{Err: err}, nil, err
			}
			cur, _, _ := s.txMgr.Read(tx, cmd.Table, cmd.Predicate.PK)
			row := applyAssignments(cur, cmd.Predicate.PK, cmd.Assignments)
			return s.applyTxWrite(cmd.TxId, cmd.Table, cmd.Predicate.PK, row, false)
		}
		old, found, _ := s.store.Get(cmd.Table, cmd.Predicate.PK)
		row := applyAssignments(old, cmd.Predicate.PK, cmd.Assignments)
		if err := s.store.Update(cmd.Table, cmd.Predicate.PK, row); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		table, pk := cmd.Table, cmd.Predicate.PK
		key := mvcc.Key(table, pk)
		s.mvccS.PutVersion(0, key, row)
		s.mvccS.CommitVersions(0, []types.RowKey{key}, ts)
		return types.PerCommandResult{}, func() {
			if found {
				_ = s.store.Update(table, old.PK, old)
			}
			s.mvccS.Uncommit(key, ts)
		}, nil

	case types.CmdDelete:
		if cmd.TxId != 0 {
			return s.applyTxWrite(cmd.TxId, cmd.Table, cmd.Predicate.PK, types.Row{}, true)
		}
		old, found, _ := s.store.Get(cmd.Table, cmd.Predicate.PK)
		if err := s.store.Delete(cmd.Table, cmd.Predicate.PK); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		table, pk := cmd.Table, cmd.Predicate.PK
		key := mvcc.Key(table, pk)
		s.mvccS.Tombstone(0, key)
		s.mvccS.CommitVersions(0, []types.RowKey{key}, ts)
		return types.PerCommandResult{}, func() {
			if found {
				_ = s.store.Insert(table, old)
			}
			s.mvccS.Uncommit(key, ts)
		}, nil

	case types.CmdCreateIndex:
		if err := s.store.CreateIndex(cmd.Table, cmd.Column, cmd.Index); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		table, col := cmd.Table, cmd.Column
		return types.PerCommandResult{}, func() { _ = s.store.DropIndex(table, col) }, nil

	case types.CmdDropIndex:
		if err := s.store.DropIndex(cmd.Table, cmd.Column); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		return types.PerCommandResult{}, nil, nil

	case types.CmdBeginTx:
		s.txMgr.Begin(cmd.TxId, cmd.Isolation, ts)
		txID := cmd.TxId
		return types.PerCommandResult{}, func() {
			if tx, ok := s.txMgr.Lookup(txID); ok {
				_ = s.txMgr.Abort(tx)
			}
			delete(s.txWrites, txID)
		}, nil

	case types.CmdCommitTx:
		tx, ok := s.txMgr.Lookup(cmd.TxId)
		if !ok {
			err := fmt.Errorf("%w: commit of unknown tx %d", coralerr.ErrInternal, cmd.TxId)
			return types.PerCommandResult{Err: err}, nil, err
		}
		staged := s.txWrites[cmd.TxId]
		if err := s.txMgr.Commit(tx, ts); err != nil {
			return types.PerCommandResult{Err: err}, nil, err
		}
		// Flush every write this transaction staged into Storage, now that
		// it is durably committed in MVCC: Storage is what the Snapshot
		// Provider captures, so a committed transaction whose writes
		// never reach Storage would vanish across a snapshot round-trip.
		// The rollback closure undoes Storage only; it deliberately does
		// not try to re-open the transaction in the Transaction Manager —
		// clients submit CommitTx as the last command of its batch, so that
		// combination is left unhandled rather than built out speculatively.
		undo := s.flushTxWrites(cmd.TxId, staged)
		return types.PerCommandResult{}, undo, nil

	case types.CmdAbortTx:
		tx, ok := s.txMgr.Lookup(cmd.TxId)
		if !ok {
			return types.PerCommandResult{}, nil, nil
		}
		_ = s.txMgr.Abort(tx)
		delete(s.txWrites, cmd.TxId)
		return types.PerCommandResult{}, nil, nil

	default:
		err := fmt.Errorf("%w: unknown command kind %d", coralerr.ErrLogCorruption, cmd.Kind)
		return types.PerCommandResult{Err: err}, nil, err
	}
}

// applyTxWrite routes a mutation command that carries a nonzero TxId
// through the Transaction Manager: it looks the transaction up, stages the
// write or tombstone in both MVCC's pending overlay (via txn.Manager, which
// also handles per-isolation-level locking) and this
// StateMachine's own txWrites sidecar, and returns a rollback closure that
// un-stages exactly this key if a later command in the same batch fails.
func (s *StateMachine) applyTxWrite(txID types.TxId, table string, pk types.Value, row types.Row, tombstone bool) (types.PerCommandResult, func(), error) {
	tx, ok := s.txMgr.Lookup(txID)
	if !ok {
		err := fmt.Errorf("%w: write under unknown tx %d", coralerr.ErrInternal, txID)
		return types.PerCommandResult{Err: err}, nil, err
	}

	var err error
	if tombstone {
		err = s.txMgr.Delete(context.Background(), tx, table, pk)
	} else {
		err = s.txMgr.Write(context.Background(), tx, table, pk, row)
	}
	if err != nil {
		// A lock-acquire failure aborted the transaction inside the
		// Transaction Manager; drop its sidecar so a stale staged write
		// cannot outlive it.
		if _, alive := s.txMgr.Lookup(txID); !alive {
			delete(s.txWrites, txID)
		}
		return types.PerCommandResult{Err: err}, nil, err
	}

	key := mvcc.Key(table, pk)
	if s.txWrites[txID] == nil {
		s.txWrites[txID] = make(map[types.RowKey]txWrite)
	}
	s.txWrites[txID][key] = txWrite{table: table, pk: pk, row: row, tombstone: tombstone}

	return types.PerCommandResult{}, func() {
		if m := s.txWrites[txID]; m != nil {
			delete(m, key)
		}
	}, nil
}

// flushTxWrites applies every write tx staged (deduped by key, last write
// wins — the same rule pkg/mvcc's pending overlay already applies) to
// Storage, now that the transaction has committed, and clears the sidecar
// for tx. It returns a closure that undoes every Storage mutation it made,
// in reverse order.
func (s *StateMachine) flushTxWrites(txID types.TxId, staged map[types.RowKey]txWrite) func() {
	var undos []func()
	for _, w := range staged {
		if w.tombstone {
			old, found, _ := s.store.Get(w.table, w.pk)
			_ = s.store.Delete(w.table, w.pk)
			if found {
				table, o := w.table, old
				undos = append(undos, func() { _ = s.store.Insert(table, o) })
			}
			continue
		}
		old, found, _ := s.store.Get(w.table, w.pk)
		if found {
			_ = s.store.Update(w.table, w.pk, w.row)
			table, pk, o := w.table, w.pk, old
			undos = append(undos, func() { _ = s.store.Update(table, pk, o) })
		} else {
			_ = s.store.Insert(w.table, w.row)
			table, pk := w.table, w.pk
			undos = append(undos, func() { _ = s.store.Delete(table, pk) })
		}
	}
	delete(s.txWrites, txID)

	return func() {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	}
}

func applyAssignments(old types.Row, pk types.Value, assignments map[types.ColumnName]types.Value) types.Row {
	row := old.Clone()
	if row.Columns == nil {
		row.Columns = make(map[types.ColumnName]types.Value)
	}
	row.PK = pk
	for k, v := range assignments {
		row.Columns[k] = v
	}
	return row
}

func inverseAlterOp(op types.AlterOp, prior types.Schema) types.AlterOp {
	switch op.Kind {
	case types.AlterAddColumn:
		return types.AlterOp{Kind: types.AlterDropColumn, DropName: op.Column.Name}
	case types.AlterDropColumn:
		for _, c := range prior.Columns {
			if c.Name == op.DropName {
				return types.AlterOp{Kind: types.AlterAddColumn, Column: c}
			}
		}
		return op
	case types.AlterRenameColumn:
		return types.AlterOp{Kind: types.AlterRenameColumn, FromName: op.ToName, ToName: op.FromName}
	default:
		return op
	}
}

func (s *StateMachine) cacheResultLocked(id types.CommandId, res types.BatchResult) {
	s.appliedCommands[id] = res
	s.cacheOrder = append(s.cacheOrder, id)
	if len(s.cacheOrder) > DefaultResultCacheSize {
		drop := s.cacheOrder[0]
		s.cacheOrder = s.cacheOrder[1:]
		delete(s.appliedCommands, drop)
	}
}

// NextCommandID returns the next id propose() should assign.
func (s *StateMachine) NextCommandID() types.CommandId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCommandID
}

// LastApplied returns the highest CommandId applied so far, the node's
// apply index.
func (s *StateMachine) LastApplied() types.CommandId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied
}

// LogicalClock returns the current value of the logical clock ApplyBatch
// stamps MVCC versions with. It is exposed read-only for the maintenance
// loop's GC watermark computation, which must use the same clock
// as apply_batch rather than wall time.
func (s *StateMachine) LogicalClock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Store exposes the underlying Storage for read-only callers (the read
// path and the SQL frontend's read plans), which never go through Apply.
func (s *StateMachine) Store() storage.Store { return s.store }

// ReadCommitted returns the row visible to a ReadCommitted reader for
// (table, pk) at the current logical clock tick, consumed directly
// against MVCC and used by the Consensus Bridge's Read
// hook for both linearizable and stale-follower reads. It never
// touches Storage directly so it stays consistent with in-flight,
// not-yet-GC'd transaction effects the same way a ReplicatedCommand would.
func (s *StateMachine) ReadCommitted(table string, pk types.Value) (types.Row, bool) {
	s.mu.Lock()
	ts := s.clock
	s.mu.Unlock()
	return s.mvccS.Get(mvcc.Key(table, pk), ts, false)
}

// TxManager exposes the Transaction Manager to read callers that need to
// honor a transaction's isolation level (e.g. a read issued mid-transaction
// outside of a ReplicatedCommand).
func (s *StateMachine) TxManager() *txn.Manager { return s.txMgr }

// MVCC exposes the underlying version store, mainly for the maintenance
// loop's periodic GC pass.
func (s *StateMachine) MVCC() *mvcc.Store { return s.mvccS }

// --- raft.FSM ---

// Apply implements raft.FSM. It decodes the canonical CommandBatch payload
// and delegates to ApplyBatch. A decode failure indicates log corruption
// and is fatal: the fatal hook stops the process here on whichever
// replica hit the corrupt entry, and the *coralerr.FatalError return
// covers the hookless (test) configuration.
func (s *StateMachine) Apply(log *raft.Log) interface{} {
	batch, err := codec.Decode(log.Data)
	if err != nil {
		fatal := coralerr.NewFatal(fmt.Errorf("%w: %v", coralerr.ErrLogCorruption, err))
		_ = s.reportFatal(fatal)
		return fatal
	}
	return s.ApplyBatch(batch)
}

// Snapshot implements raft.FSM, delegating to the Snapshot Provider's
// capture path. It is intentionally thin: snapshotNow owns the read
// barrier and pkg/snapshot the on-disk format.
func (s *StateMachine) Snapshot() (raft.FSMSnapshot, error) {
	return newFSMSnapshot(s)
}

// Restore implements raft.FSM, delegating to the Snapshot Provider's
// restore path.
func (s *StateMachine) Restore(rc io.ReadCloser) error {
	return restoreFSM(s, rc)
}

// CreateSnapshotBytes runs the Snapshot Provider's capture path and encodes
// the result in the on-disk format, bypassing raft's own snapshot
// store. This is what the Admin RPC surface uses to export a portable
// snapshot on demand.
func (s *StateMachine) CreateSnapshotBytes() ([]byte, error) {
	meta, data, err := s.snapshotNow()
	if err != nil {
		return nil, err
	}
	return snapshot.Encode(meta, data)
}

// InstallSnapshotBytes decodes b and runs the restore() path, the
// install_snapshot half of CreateSnapshotBytes. A version mismatch or
// corrupt framing is process-fatal, same as a corrupt log entry: a
// snapshot this replica cannot decode leaves it unable to ever catch up.
func (s *StateMachine) InstallSnapshotBytes(b []byte) error {
	meta, data, err := snapshot.Decode(b)
	if err != nil {
		if errors.Is(err, coralerr.ErrSnapshotVersionMismatch) || errors.Is(err, coralerr.ErrLogCorruption) {
			return s.reportFatal(coralerr.NewFatal(err))
		}
		return err
	}
	return s.restoreNow(meta, data)
}

// snapshotNow is the synchronous half of snapshot capture: it captures
// Storage contents and the current apply index under the StateMachine's
// own mutex, which doubles as the read barrier ("blocks new
// apply_batch calls until a consistent snapshot index is captured").
func (s *StateMachine) snapshotNow() (types.SnapshotMeta, types.SnapshotData, error) {
	s.mu.Lock()

	data, err := s.store.Snapshot()
	if err != nil {
		s.mu.Unlock()
		return types.SnapshotMeta{}, types.SnapshotData{}, err
	}
	// CreatedAt is informational provenance only (carried in the encoded
	// snapshot metadata) — nothing in apply or restore reads it, so stamping it from the wall clock here does not touch
	// determinism, unlike CommandId-derived MVCC timestamps.
	meta := types.SnapshotMeta{LastAppliedCommand: s.lastApplied, CreatedAt: time.Now().UTC()}
	hook := s.onSnapshot
	s.mu.Unlock()

	if hook != nil {
		hook(meta)
	}
	return meta, data, nil
}

// restoreNow performs the restore path under the StateMachine's
// mutex: drop all in-memory state, rebuild Storage and MVCC, reset
// applied_commands, discard in-flight transactions.
func (s *StateMachine) restoreNow(meta types.SnapshotMeta, data types.SnapshotData) error {
	s.mu.Lock()

	s.txMgr.AbortAll()
	s.locks = lockmgr.New()
	s.mvccS.Reset()
	s.txWrites = make(map[types.TxId]map[types.RowKey]txWrite)

	if err := s.store.RestoreFrom(data); err != nil {
		s.mu.Unlock()
		return err
	}
	s.txMgr = txn.New(s.locks, s.mvccS)

	// Resume the logical clock at the snapshot's apply index so MVCC
	// timestamps stay monotonic across a restore instead of restarting
	// below versions loaded from the snapshot.
	s.clock = uint64(meta.LastAppliedCommand)

	names := data.Tables
	sort.Slice(names, func(i, j int) bool { return names[i].Name < names[j].Name })
	for _, t := range names {
		for _, row := range t.Rows {
			key := mvcc.Key(t.Name, row.PK)
			s.mvccS.LoadCommitted(key, row, s.clock)
		}
	}

	s.appliedCommands = make(map[types.CommandId]types.BatchResult)
	s.cacheOrder = nil
	s.nextCommandID = meta.LastAppliedCommand + 1
	s.lastApplied = meta.LastAppliedCommand
	hook := s.onRestore
	s.mu.Unlock()

	if hook != nil {
		hook(meta)
	}
	return nil
}

// AlreadyApplied reports whether id has already been applied, used by the
// Consensus Bridge's recovery path to skip entries a restored
// snapshot already accounts for, and by ApplyBatch's post-restore guarantee
// ("already applied" for any id <= last_applied_command).
func (s *StateMachine) AlreadyApplied(id types.CommandId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appliedCommands[id]; ok {
		return true
	}
	// The synthesized "already applied" guarantee: individual
	// pre-snapshot results are not retained, but any id at or below the
	// apply index baked into the last restore must still read as applied.
	return id <= s.lastApplied
}

// readIndexPollInterval bounds how often ReadIndexReady re-checks the
// apply index while waiting for it to catch up to a ReadIndex probe.
const readIndexPollInterval = 2 * time.Millisecond

// ReadIndexReady blocks until the apply index reaches at least
// committedIndex, or ctx is cancelled. The Consensus Bridge calls this
// for a ReadIndex probe after confirming leadership is
// still current for the probe.
func (s *StateMachine) ReadIndexReady(ctx context.Context, committedIndex types.CommandId) error {
	for {
		if s.LastApplied() >= committedIndex {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readIndexPollInterval):
		}
	}
}
