// Package standalone runs the state machine against a local write-ahead
// log instead of a consensus log: every batch is appended and fsynced to
// the WAL before it is applied, and recovery replays the WAL from the
// start into a fresh state machine. A node driven by consensus must never
// also keep a WAL — the consensus log is the write-ahead log there — so
// Open refuses to start when a consensus log directory is configured.
package standalone

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/coraldb/coral/pkg/statemachine"
	"github.com/coraldb/coral/pkg/storage"
	"github.com/coraldb/coral/pkg/types"
	"github.com/coraldb/coral/pkg/wal"
)

// Node is a single-process, non-replicated instance: Storage, state
// machine and WAL, with no Raft underneath.
type Node struct {
	store *storage.BoltStore
	sm    *statemachine.StateMachine
	wal   *wal.WAL
}

// Open boots a standalone node rooted at dataDir, replaying any existing
// WAL records into the state machine before returning. raftDir is the
// consensus log directory the caller would have used in clustered mode;
// passing a non-empty value (or having one on disk from an earlier
// clustered life of this data directory) is a configuration error, not a
// fallback.
func Open(dataDir, raftDir string) (*Node, error) {
	if raftDir != "" {
		return nil, fmt.Errorf("standalone mode cannot run with a consensus log directory configured (%s): the consensus log replaces the WAL", raftDir)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "raft-log.db")); err == nil {
		return nil, fmt.Errorf("standalone mode refused: %s contains a consensus log from a clustered node", dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, err
	}
	// Storage is durable but the apply index is not, so state left behind
	// by the previous run must be dropped before replay: re-executing the
	// log against surviving rows would double-apply every batch. The WAL
	// is the sole durable source in standalone mode; Storage is rebuilt
	// from it on every boot.
	if err := store.RestoreFrom(types.SnapshotData{}); err != nil {
		store.Close()
		return nil, err
	}
	sm := statemachine.New(store)

	walPath := filepath.Join(dataDir, "wal.log")
	if err := wal.Replay(walPath, func(b types.CommandBatch) error {
		sm.ApplyBatch(b)
		return nil
	}); err != nil {
		store.Close()
		return nil, err
	}

	w, err := wal.Open(walPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Node{store: store, sm: sm, wal: w}, nil
}

// Apply assigns the next command id, makes the batch durable in the WAL,
// and applies it. The WAL append happens first: a crash between the two
// re-applies the batch on the next Open, and ApplyBatch's idempotency
// makes that replay harmless.
func (n *Node) Apply(commands []types.ReplicatedCommand) (types.BatchResult, error) {
	batch := types.CommandBatch{Id: n.sm.NextCommandID(), Commands: commands}
	if err := n.wal.Append(batch); err != nil {
		return types.BatchResult{}, err
	}
	return n.sm.ApplyBatch(batch), nil
}

// Read returns the committed row for (table, pk), the same read path a
// clustered node serves.
func (n *Node) Read(table string, pk types.Value) (types.Row, bool) {
	return n.sm.ReadCommitted(table, pk)
}

// StateMachine exposes the underlying state machine, mainly for tests
// that want to assert on apply indexes directly.
func (n *Node) StateMachine() *statemachine.StateMachine { return n.sm }

// Close closes the WAL and Storage.
func (n *Node) Close() error {
	werr := n.wal.Close()
	serr := n.store.Close()
	if werr != nil {
		return werr
	}
	return serr
}
