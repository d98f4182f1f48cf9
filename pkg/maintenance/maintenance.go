package maintenance

import (
	"sync"
	"time"

	"github.com/coraldb/coral/pkg/log"
	"github.com/coraldb/coral/pkg/manager"
	"github.com/coraldb/coral/pkg/metrics"
	"github.com/coraldb/coral/pkg/statemachine"
	"github.com/coraldb/coral/pkg/types"
	"github.com/rs/zerolog"
)

// AbandonedTxTimeout is how long a transaction may sit Active with no
// commit or abort before the maintenance loop proposes an AbortTx for it.
// This is independent of the unconditional abandoned-transaction backstop
// applied by StateMachine.restoreNow at snapshot install;
// this loop exists so an abandoned transaction's locks are released well
// before the next snapshot, not just eventually.
const AbandonedTxTimeout = 5 * time.Minute

// Loop is the maintenance loop for one node. Only the leader proposes
// AbortTx for abandoned transactions (abort is a state
// mutation and must flow through the deterministic apply path like any
// other command); every node runs its own local MVCC GC pass
// independently, since GC is documented not to affect apply determinism.
type Loop struct {
	manager *manager.Manager
	logger  zerolog.Logger
	stopCh  chan struct{}

	mu     sync.Mutex
	seenAt map[types.TxId]time.Time
}

// NewLoop creates a new maintenance loop over mgr.
func NewLoop(mgr *manager.Manager) *Loop {
	return &Loop{
		manager: mgr,
		logger:  log.WithComponent("maintenance"),
		stopCh:  make(chan struct{}),
		seenAt:  make(map[types.TxId]time.Time),
	}
}

// Start begins the loop's background goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop stops the loop.
func (l *Loop) Stop() {
	close(l.stopCh)
}

func (l *Loop) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	l.logger.Info().Msg("maintenance loop started")

	for {
		select {
		case <-ticker.C:
			l.cycle()
		case <-l.stopCh:
			l.logger.Info().Msg("maintenance loop stopped")
			return
		}
	}
}

func (l *Loop) cycle() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.MaintenanceDuration)
		metrics.MaintenanceCyclesTotal.Inc()
	}()

	sm := l.manager.StateMachine()
	if sm == nil {
		return
	}

	active := sm.TxManager().Active()
	l.gc(sm, active)

	if l.manager.IsLeader() {
		l.reapAbandoned(active)
	}
}

// gc runs mvcc.Store.GC with the current minimum active snapshot
// timestamp as the watermark. Every node computes this locally from its
// own applied state, so no coordination with the leader is required: the
// result (which dead versions are eligible) is a deterministic function
// of locally-applied state and affects only memory usage, never what
// apply_batch returns.
func (l *Loop) gc(sm *statemachine.StateMachine, active []*types.Transaction) {
	minTs := sm.TxManager().MinActiveSnapshotTs(sm.LogicalClock())
	collected := sm.MVCC().GC(minTs)
	if collected > 0 {
		metrics.MVCCVersionsGCedTotal.Add(float64(collected))
		l.logger.Debug().Int("collected", collected).Msg("mvcc gc pass")
	}
}

// reapAbandoned proposes AbortTx for any transaction this loop has
// observed Active for longer than AbandonedTxTimeout. A transaction first
// seen this cycle is recorded but never reaped on its first sighting,
// since wall-clock observation intervals (not the logical clock) drive
// this decision and a freshly-begun transaction must get at least one
// full timeout window.
func (l *Loop) reapAbandoned(active []*types.Transaction) {
	now := time.Now()
	l.mu.Lock()
	stillActive := make(map[types.TxId]bool, len(active))
	var toReap []types.TxId
	for _, tx := range active {
		stillActive[tx.Id] = true
		first, ok := l.seenAt[tx.Id]
		if !ok {
			l.seenAt[tx.Id] = now
			continue
		}
		if now.Sub(first) > AbandonedTxTimeout {
			toReap = append(toReap, tx.Id)
		}
	}
	for id := range l.seenAt {
		if !stillActive[id] {
			delete(l.seenAt, id)
		}
	}
	l.mu.Unlock()

	for _, id := range toReap {
		batch := types.CommandBatch{
			Id: l.manager.StateMachine().NextCommandID(),
			Commands: []types.ReplicatedCommand{
				{Kind: types.CmdAbortTx, TxId: id},
			},
		}
		if _, err := l.manager.Propose(batch); err != nil {
			l.logger.Warn().Uint64("tx_id", uint64(id)).Err(err).Msg("failed to reap abandoned transaction")
			continue
		}
		metrics.AbandonedTxReapedTotal.Inc()
		l.logger.Info().Uint64("tx_id", uint64(id)).Msg("reaped abandoned transaction")

		l.mu.Lock()
		delete(l.seenAt, id)
		l.mu.Unlock()
	}
}
