// Package lockmgr implements the per-key shared/exclusive lock table used
// by the Transaction Manager for ReadCommitted, RepeatableRead and
// Serializable isolation. Deadlock detection runs inline on every
// blocking acquisition rather than on a background timer, so a cycle is
// found the moment the edge that closes it is added.
package lockmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/types"
)

// Mode is a lock mode: shared or exclusive.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func compatible(a, b Mode) bool {
	return a == Shared && b == Shared
}

type holder struct {
	tx   types.TxId
	mode Mode
}

type waiter struct {
	tx      types.TxId
	mode    Mode
	key     types.RowKey
	granted chan error
}

type keyLock struct {
	holders []holder
	queue   []*waiter
}

// Manager is the lock table plus wait-for graph for one state machine
// instance. A single mutex protects both, which keeps cycle
// checks cheap (O(edges)) and contention acceptable because the critical
// section never blocks on I/O.
type Manager struct {
	mu sync.Mutex

	keys map[types.RowKey]*keyLock

	// waitFor[waiter] = set of holders it is blocked behind, the edges of
	// the wait-for graph: blocked waiters point at lock holders.
	waitFor map[types.TxId]map[types.TxId]bool

	// waiting locates a transaction's pending waiter struct (and the key
	// it is queued on), so a deadlock victim found anywhere in the cycle
	// can be aborted even if it is not the transaction currently calling
	// Acquire.
	waiting map[types.TxId]*waiter

	// held tracks every key a transaction currently holds, in acquisition
	// order, so locks can be released in reverse acquisition order on
	// commit and so a victim's locks can be torn down on abort.
	held map[types.TxId][]types.RowKey
}

func New() *Manager {
	return &Manager{
		keys:    make(map[types.RowKey]*keyLock),
		waitFor: make(map[types.TxId]map[types.TxId]bool),
		waiting: make(map[types.TxId]*waiter),
		held:    make(map[types.TxId][]types.RowKey),
	}
}

// Acquire blocks until tx holds mode on key, the context is cancelled, the
// optional timeout expires, or tx is chosen as a deadlock victim. A
// cancelled wait releases its wait-graph edge atomically before
// returning.
func (m *Manager) Acquire(ctx context.Context, tx types.TxId, key types.RowKey, mode Mode, timeout time.Duration) error {
	m.mu.Lock()
	kl, ok := m.keys[key]
	if !ok {
		kl = &keyLock{}
		m.keys[key] = kl
	}

	if m.alreadyHoldsLocked(kl, tx, mode) {
		m.mu.Unlock()
		return nil
	}

	if len(kl.queue) == 0 && m.canGrantLocked(kl, tx, mode) {
		m.grantLocked(kl, tx, mode, key)
		m.mu.Unlock()
		return nil
	}

	w := &waiter{tx: tx, mode: mode, key: key, granted: make(chan error, 1)}
	kl.queue = append(kl.queue, w)
	m.waiting[tx] = w
	m.addWaitEdgesLocked(tx, kl)

	if victim, cyclic := m.detectCycleLocked(tx); cyclic {
		m.abortVictimLocked(victim)
		if victim == tx {
			m.mu.Unlock()
			return &coralerr.DeadlockError{Victim: uint64(victim)}
		}
	}
	m.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-w.granted:
		return err
	case <-timeoutCh:
		m.mu.Lock()
		m.abortVictimLocked(tx)
		m.mu.Unlock()
		return coralerr.ErrLockTimeout
	case <-ctx.Done():
		m.mu.Lock()
		m.abortVictimLocked(tx)
		m.mu.Unlock()
		return ctx.Err()
	}
}

func (m *Manager) alreadyHoldsLocked(kl *keyLock, tx types.TxId, mode Mode) bool {
	for _, h := range kl.holders {
		if h.tx == tx {
			return mode == Shared || h.mode == Exclusive
		}
	}
	return false
}

func (m *Manager) canGrantLocked(kl *keyLock, tx types.TxId, mode Mode) bool {
	for _, h := range kl.holders {
		if h.tx == tx {
			continue
		}
		if !compatible(h.mode, mode) {
			return false
		}
	}
	return true
}

func (m *Manager) grantLocked(kl *keyLock, tx types.TxId, mode Mode, key types.RowKey) {
	for i, h := range kl.holders {
		if h.tx == tx {
			if mode == Exclusive {
				kl.holders[i].mode = Exclusive
			}
			return
		}
	}
	kl.holders = append(kl.holders, holder{tx: tx, mode: mode})
	m.held[tx] = append(m.held[tx], key)
}

func (m *Manager) addWaitEdgesLocked(tx types.TxId, kl *keyLock) {
	if m.waitFor[tx] == nil {
		m.waitFor[tx] = make(map[types.TxId]bool)
	}
	for _, h := range kl.holders {
		if h.tx != tx {
			m.waitFor[tx][h.tx] = true
		}
	}
}

// detectCycleLocked runs DFS with colors from start over the wait-for
// graph. If a cycle is found, the victim is the transaction with the
// largest TxId in the cycle (youngest wins as victim); ties are
// impossible since TxId is unique.
func (m *Manager) detectCycleLocked(start types.TxId) (victim types.TxId, found bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[types.TxId]int)
	var cycle []types.TxId
	var path []types.TxId

	var dfs func(types.TxId) bool
	dfs = func(tx types.TxId) bool {
		color[tx] = gray
		path = append(path, tx)
		for next := range m.waitFor[tx] {
			switch color[next] {
			case white:
				if dfs(next) {
					return true
				}
			case gray:
				for i, p := range path {
					if p == next {
						cycle = append([]types.TxId{}, path[i:]...)
						return true
					}
				}
			}
		}
		color[tx] = black
		path = path[:len(path)-1]
		return false
	}

	if !dfs(start) {
		return 0, false
	}

	sort.Slice(cycle, func(i, j int) bool { return cycle[i] > cycle[j] })
	return cycle[0], true
}

// abortVictimLocked removes the victim's pending waiter (wherever it is
// queued), delivers the deadlock error on its channel, and drops its
// wait-for edges. If the victim is not currently waiting (e.g. it already
// timed out or was cancelled concurrently) this is a no-op.
func (m *Manager) abortVictimLocked(victim types.TxId) {
	w, ok := m.waiting[victim]
	if !ok {
		return
	}
	kl := m.keys[w.key]
	for i, q := range kl.queue {
		if q == w {
			kl.queue = append(kl.queue[:i], kl.queue[i+1:]...)
			break
		}
	}
	delete(m.waiting, victim)
	delete(m.waitFor, victim)
	for _, edges := range m.waitFor {
		delete(edges, victim)
	}
	select {
	case w.granted <- &coralerr.DeadlockError{Victim: uint64(victim)}:
	default:
	}
	m.pumpQueueLocked(kl, w.key)
}

// pumpQueueLocked grants the longest compatible prefix of the FIFO queue
// for key.
func (m *Manager) pumpQueueLocked(kl *keyLock, key types.RowKey) {
	for len(kl.queue) > 0 {
		w := kl.queue[0]
		if !m.canGrantLocked(kl, w.tx, w.mode) {
			return
		}
		kl.queue = kl.queue[1:]
		m.grantLocked(kl, w.tx, w.mode, key)
		delete(m.waiting, w.tx)
		delete(m.waitFor, w.tx)
		select {
		case w.granted <- nil:
		default:
		}
	}
}

// Release drops every lock tx holds, in reverse acquisition order, and
// wakes any waiters now eligible to proceed.
func (m *Manager) Release(tx types.TxId) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.held[tx]
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		kl, ok := m.keys[key]
		if !ok {
			continue
		}
		for j, h := range kl.holders {
			if h.tx == tx {
				kl.holders = append(kl.holders[:j], kl.holders[j+1:]...)
				break
			}
		}
		m.pumpQueueLocked(kl, key)
	}
	delete(m.held, tx)
	delete(m.waitFor, tx)
	for _, edges := range m.waitFor {
		delete(edges, tx)
	}
}

// HeldKeys returns the keys currently locked by tx, for diagnostics and
// tests.
func (m *Manager) HeldKeys(tx types.TxId) []types.RowKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.RowKey, len(m.held[tx]))
	copy(out, m.held[tx])
	return out
}

func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("lockmgr{keys=%d waiters=%d}", len(m.keys), len(m.waitFor))
}
