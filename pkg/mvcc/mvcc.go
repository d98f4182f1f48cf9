// Package mvcc implements the per-row version store keyed by
// (table, primary key). Version chains are modeled as an arena of nodes
// addressed by integer index rather than back-pointers, which keeps
// garbage collection a simple compaction pass instead of a
// cyclic-ownership problem between rows and versions.
package mvcc

import (
	"sync"

	"github.com/coraldb/coral/pkg/codec"
	"github.com/coraldb/coral/pkg/types"
)

// node is one arena entry: a committed version plus the RowKey it belongs
// to, so a compaction pass can rebuild the per-key chains from a filtered
// arena slice.
type node struct {
	key     types.RowKey
	version types.MVCCVersion
}

// pending holds at most one uncommitted write per key, the overlay
// ReadUncommitted readers consult directly: latest version wins,
// committed or not, with no locks taken.
type pending struct {
	tx        types.TxId
	row       types.Row
	tombstone bool
}

// Store is the MVCC version store for one state machine instance.
type Store struct {
	mu sync.Mutex

	arena   []node
	chains  map[types.RowKey][]int // indices into arena, oldest first
	pending map[types.RowKey]pending
}

func New() *Store {
	return &Store{
		chains:  make(map[types.RowKey][]int),
		pending: make(map[types.RowKey]pending),
	}
}

// Key builds the RowKey for a (table, pk) pair using the canonical PK
// encoding so lookups agree regardless of the Value's dynamic type.
func Key(table string, pk types.Value) types.RowKey {
	return types.RowKey{Table: table, PK: codec.PKKey(pk)}
}

// Get returns the row visible to a reader at logical timestamp ts. When
// readUncommitted is true, an uncommitted write on key (from any
// transaction) is returned ahead of the committed chain.
func (s *Store) Get(key types.RowKey, ts uint64, readUncommitted bool) (types.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if readUncommitted {
		if p, ok := s.pending[key]; ok {
			if p.tombstone {
				return types.Row{}, false
			}
			return p.row, true
		}
	}

	var best *types.MVCCVersion
	var bestTs uint64
	for _, idx := range s.chains[key] {
		v := s.arena[idx].version
		if v.CreatedTs > ts {
			continue
		}
		if v.HasDeletedTs && v.DeletedTs <= ts {
			continue
		}
		if best == nil || v.CreatedTs > bestTs {
			vv := v
			best = &vv
			bestTs = v.CreatedTs
		}
	}
	if best == nil || best.Tombstone {
		return types.Row{}, false
	}
	return best.Row, true
}

// PutVersion stages an uncommitted write for (tx, key). It becomes visible
// to committed readers only once CommitVersions is called for tx.
func (s *Store) PutVersion(tx types.TxId, key types.RowKey, row types.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = pending{tx: tx, row: row}
}

// Tombstone stages an uncommitted delete for (tx, key).
func (s *Store) Tombstone(tx types.TxId, key types.RowKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = pending{tx: tx, tombstone: true}
}

// CommitVersions moves every pending write belonging to tx, for the given
// keys, into the committed chain stamped with commitTs. Any prior
// committed version for the same key is marked deleted at commitTs so the
// chain's visibility rule ("first version with created_ts <= T and
// deleted_ts absent or > T") needs no special-casing for supersession.
func (s *Store) CommitVersions(tx types.TxId, keys []types.RowKey, commitTs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		p, ok := s.pending[key]
		if !ok || p.tx != tx {
			continue
		}
		s.supersedeLatestLocked(key, commitTs)

		if !p.tombstone {
			idx := len(s.arena)
			s.arena = append(s.arena, node{key: key, version: types.MVCCVersion{
				Row:         p.row,
				CreatedByTx: tx,
				CreatedTs:   commitTs,
			}})
			s.chains[key] = append(s.chains[key], idx)
		}
		delete(s.pending, key)
	}
}

// AbortVersions discards every pending write belonging to tx for the
// given keys, the write-set teardown of an abort.
func (s *Store) AbortVersions(tx types.TxId, keys []types.RowKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if p, ok := s.pending[key]; ok && p.tx == tx {
			delete(s.pending, key)
		}
	}
}

// supersedeLatestLocked marks the currently-visible committed version for
// key (if any) as deleted at ts, so it falls out of visibility for any
// reader at a timestamp >= ts.
func (s *Store) supersedeLatestLocked(key types.RowKey, ts uint64) {
	chain := s.chains[key]
	bestIdx := -1
	var bestTs uint64
	for _, idx := range chain {
		v := s.arena[idx].version
		if v.HasDeletedTs {
			continue
		}
		if bestIdx == -1 || v.CreatedTs > bestTs {
			bestIdx = idx
			bestTs = v.CreatedTs
		}
	}
	if bestIdx != -1 {
		s.arena[bestIdx].version.HasDeletedTs = true
		s.arena[bestIdx].version.DeletedTs = ts
	}
}

// ReadSetStillValid reports whether every key the given read set visited
// still has no version created after snapshotTs — the read-set validation
// Serializable commit requires.
func (s *Store) ReadSetStillValid(readSet map[types.RowKey]struct{}, snapshotTs uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range readSet {
		for _, idx := range s.chains[key] {
			if s.arena[idx].version.CreatedTs > snapshotTs {
				return false
			}
		}
	}
	return true
}

// Uncommit removes the version created at ts for key (if any) and, if that
// version's commit had superseded an older one at the same ts, restores the
// older version's visibility. This undoes exactly what CommitVersions did
// for one key at one commit tick, used to roll back an autocommit write
// when a later command in the same batch fails: a batch is all its
// commands or none.
func (s *Store) Uncommit(key types.RowKey, ts uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[key]
	kept := chain[:0]
	for _, idx := range chain {
		if s.arena[idx].version.CreatedTs == ts && !s.arena[idx].version.HasDeletedTs {
			continue
		}
		kept = append(kept, idx)
	}
	s.chains[key] = kept

	for _, idx := range kept {
		v := &s.arena[idx].version
		if v.HasDeletedTs && v.DeletedTs == ts {
			v.HasDeletedTs = false
			v.DeletedTs = 0
		}
	}
}

// GC removes committed versions whose DeletedTs is below
// minActiveSnapshotTs, the minimum snapshot timestamp among all active
// transactions. It runs as a compaction pass over the chains map,
// not the raw arena: an arena entry Uncommit already unlinked from every
// chain (a rolled-back autocommit write) must stay unlinked rather than
// being rediscovered and re-added, which is why this walks chains — the
// only structure that records which arena entries are actually live —
// and rebuilds both the arena and the chains from that walk.
func (s *Store) GC(minActiveSnapshotTs uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	newArena := make([]node, 0, len(s.arena))
	newChains := make(map[types.RowKey][]int, len(s.chains))
	collected := 0

	for key, chain := range s.chains {
		for _, oldIdx := range chain {
			n := s.arena[oldIdx]
			v := n.version
			if v.HasDeletedTs && v.DeletedTs < minActiveSnapshotTs {
				collected++
				continue
			}
			idx := len(newArena)
			newArena = append(newArena, n)
			newChains[key] = append(newChains[key], idx)
		}
	}

	s.arena = newArena
	s.chains = newChains
	return collected
}

// Reset drops all in-memory state, used by the Snapshot Provider's
// restore path.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arena = nil
	s.chains = make(map[types.RowKey][]int)
	s.pending = make(map[types.RowKey]pending)
}

// LoadCommitted repopulates the committed chain for key with a single
// version visible from commitTs onward, used when restoring a snapshot:
// snapshots carry only current row contents, not full history, so every
// restored row becomes one fresh version.
func (s *Store) LoadCommitted(key types.RowKey, row types.Row, commitTs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.arena)
	s.arena = append(s.arena, node{key: key, version: types.MVCCVersion{
		Row:         row,
		CreatedByTx: 0,
		CreatedTs:   commitTs,
	}})
	s.chains[key] = append(s.chains[key], idx)
}

// VersionCount reports the number of live arena entries, used by tests and
// metrics to watch for GC regressions.
func (s *Store) VersionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.arena)
}
