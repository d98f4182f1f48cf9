package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/coraldb/coral/pkg/client"
	"github.com/coraldb/coral/pkg/codec"
	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/events"
	"github.com/coraldb/coral/pkg/log"
	"github.com/coraldb/coral/pkg/metrics"
	"github.com/coraldb/coral/pkg/security"
	"github.com/coraldb/coral/pkg/statemachine"
	"github.com/coraldb/coral/pkg/storage"
	"github.com/coraldb/coral/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager is the Consensus Bridge: it wraps a *raft.Raft instance
// and the StateMachine it drives, and is the only component that knows how
// to turn a CommandBatch into a committed, applied result. Everything else
// in this process — the Admin RPC surface, the maintenance loop — talks to
// the cluster through this type.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft           *raft.Raft
	sm             *statemachine.StateMachine
	store          storage.Store
	tokenManager   *TokenManager
	secretsManager *security.SecretsManager
	ca             *security.CertAuthority
	eventBroker    *events.Broker

	leaderCh chan bool
	stopCh   chan struct{}
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	sm := statemachine.New(store)
	tokenManager := NewTokenManager()

	clusterKey := security.DeriveKeyFromClusterID(cfg.NodeID)
	secretsManager, err := security.NewSecretsManager(clusterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		return nil, fmt.Errorf("failed to set cluster encryption key: %w", err)
	}

	ca := security.NewCertAuthority(filepath.Join(cfg.DataDir, "ca"))
	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		nodeID:         cfg.NodeID,
		bindAddr:       cfg.BindAddr,
		dataDir:        cfg.DataDir,
		sm:             sm,
		store:          store,
		secretsManager: secretsManager,
		ca:             ca,
		tokenManager:   tokenManager,
		eventBroker:    eventBroker,
		leaderCh:       make(chan bool, 1),
		stopCh:         make(chan struct{}),
	}

	sm.SetEventHooks(m.onSnapshotTaken, m.onSnapshotInstalled)
	sm.SetFatalHook(m.fatalShutdown)

	if err := m.loadTokens(); err != nil {
		return nil, fmt.Errorf("failed to load join tokens: %w", err)
	}

	return m, nil
}

func (m *Manager) tokensPath() string {
	return filepath.Join(m.dataDir, "tokens.bin")
}

// saveTokens persists the current token set, sealed with the cluster key,
// so a minted token survives a leader restart.
func (m *Manager) saveTokens() error {
	plain, err := json.Marshal(m.tokenManager.ListTokens())
	if err != nil {
		return err
	}
	sealed, err := m.secretsManager.EncryptSecret(plain)
	if err != nil {
		return err
	}
	return os.WriteFile(m.tokensPath(), sealed, 0600)
}

// loadTokens reloads the persisted token set written by saveTokens. A
// missing file means no tokens have been minted yet.
func (m *Manager) loadTokens() error {
	sealed, err := os.ReadFile(m.tokensPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	plain, err := m.secretsManager.DecryptSecret(sealed)
	if err != nil {
		return err
	}
	var tokens []*JoinToken
	if err := json.Unmarshal(plain, &tokens); err != nil {
		return err
	}
	m.tokenManager.Restore(tokens)
	return nil
}

// fatalShutdown is the terminus for log corruption and snapshot version
// mismatch: the process refuses further apply and exits, because skipping
// an entry this replica cannot decode would silently diverge it from the
// cluster. It runs inside the FSM apply goroutine, so Raft cannot be shut
// down cleanly from here (Shutdown waits on that same goroutine); close
// what can be closed and exit hard.
func (m *Manager) fatalShutdown(err error) {
	logger := log.WithComponent("manager")
	logger.Error().Err(err).Msg("unrecoverable apply error, exiting")
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}
	if m.store != nil {
		_ = m.store.Close()
	}
	os.Exit(1)
}

// onSnapshotTaken and onSnapshotInstalled republish StateMachine's
// snapshot/restore completions as events (pkg/events.Broker.Publish is
// itself non-blocking, so these calls never stall the apply path).
func (m *Manager) onSnapshotTaken(meta types.SnapshotMeta) {
	m.PublishEvent(&events.Event{
		Type:    events.EventSnapshotTaken,
		Message: fmt.Sprintf("snapshot taken at command %d", meta.LastAppliedCommand),
	})
}

func (m *Manager) onSnapshotInstalled(meta types.SnapshotMeta) {
	m.PublishEvent(&events.Event{
		Type:    events.EventSnapshotInstalled,
		Message: fmt.Sprintf("snapshot installed at command %d", meta.LastAppliedCommand),
	})
}

// raftConfig builds the shared *raft.Config used by both Bootstrap and
// Join. Timeouts are tuned down from hashicorp/raft's WAN-oriented
// defaults for faster failure detection on a LAN-deployed cluster.
func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	config.NotifyCh = m.leaderCh
	return config
}

// watchLeadership republishes every raft.Config.NotifyCh transition as an
// EventLeadershipChanged event, until Shutdown closes stopCh. hashicorp/raft
// sends on this channel itself; nothing else in this package reads it.
func (m *Manager) watchLeadership() {
	for {
		select {
		case isLeader, ok := <-m.leaderCh:
			if !ok {
				return
			}
			role := "follower"
			if isLeader {
				role = "leader"
			}
			m.PublishEvent(&events.Event{
				Type:    events.EventLeadershipChanged,
				Message: fmt.Sprintf("node %s became %s", m.nodeID, role),
			})
		case <-m.stopCh:
			return
		}
	}
}

// startRaft wires up the TCP transport, BoltDB log/stable stores and file
// snapshot store shared by Bootstrap and Join, and starts *raft.Raft over
// the StateMachine's raft.FSM implementation.
func (m *Manager) startRaft() error {
	config := m.raftConfig()

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStorePath := filepath.Join(m.dataDir, "raft-log.db")
	logStore, err := raftboltdb.NewBoltStore(logStorePath)
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStorePath := filepath.Join(m.dataDir, "raft-stable.db")
	stableStore, err := raftboltdb.NewBoltStore(stableStorePath)
	if err != nil {
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.sm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	m.raft = r
	go m.watchLeadership()
	return nil
}

// Start resumes an already-bootstrapped-or-joined node: it opens the
// existing Raft log/stable stores for this data directory (hashicorp/raft
// detects prior state and resumes rather than requiring a fresh
// bootstrap) and loads the cluster CA. Use Bootstrap or Join the first
// time a node forms or enters a cluster; use Start on every subsequent
// process restart.
func (m *Manager) Start() error {
	if err := m.startRaft(); err != nil {
		return err
	}
	return m.ca.Load()
}

// Bootstrap initializes a new single-node Raft cluster and this node's
// Certificate Authority.
func (m *Manager) Bootstrap() error {
	if err := m.startRaft(); err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: raft.ServerAddress(m.bindAddr)},
		},
	}
	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	if err := m.initializeCA(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}
	return nil
}

// Join adds this manager to an existing cluster: it starts its own Raft
// instance, asks the leader (via the Admin RPC add_peer call) to add it as
// a voter, then loads the cluster's Certificate Authority.
func (m *Manager) Join(leaderAddr string, token string) error {
	if err := m.startRaft(); err != nil {
		return err
	}

	c, err := client.NewClient(leaderAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to leader: %w", err)
	}
	defer c.Close()

	if err := c.AddPeer(m.nodeID, m.bindAddr, token); err != nil {
		return fmt.Errorf("failed to join cluster via Admin RPC: %w", err)
	}

	if err := m.ca.Load(); err != nil {
		return fmt.Errorf("failed to load CA: %w", err)
	}
	return nil
}

// AddVoter adds a new node to the Raft cluster. Only the leader may do this.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("%w: current leader %s", coralerr.ErrNotLeader, m.LeaderAddr())
	}
	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{
		Type:    events.EventNodeJoined,
		Message: fmt.Sprintf("node %s (%s) joined the cluster", nodeID, address),
	})
	return nil
}

// RemoveServer removes a server from the Raft cluster. Only the leader may
// do this.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("%w", coralerr.ErrNotLeader)
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{
		Type:    events.EventNodeLeft,
		Message: fmt.Sprintf("node %s left the cluster", nodeID),
	})
	return nil
}

// GetClusterServers returns information about all servers in the Raft
// cluster configuration.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader returns true if this node is the current Raft leader.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader, or "" if none.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns a snapshot of Raft's internal stats, surfaced by the
// `info` Admin RPC and the Prometheus metrics collector.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}
	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = string(m.raft.Leader())
	if term, ok := m.raft.Stats()["term"]; ok {
		if t, err := strconv.ParseUint(term, 10, 64); err == nil {
			stats["term"] = t
		}
	}

	if configFuture := m.raft.GetConfiguration(); configFuture.Error() == nil {
		stats["peers"] = uint64(len(configFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// GetEventBroker returns the event broker.
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers.
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// StateMachine exposes the underlying StateMachine for read-only callers
// (the `exec` Admin RPC's read plans, the maintenance loop).
func (m *Manager) StateMachine() *statemachine.StateMachine {
	return m.sm
}

// Propose is the propose() hook: it assigns no id of its own —
// batch.Id is expected to already be set by the caller via NextCommandID —
// encodes the batch canonically, submits it through Raft, and returns the
// BatchResult once the entry has been committed and applied.
func (m *Manager) Propose(batch types.CommandBatch) (types.BatchResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return types.BatchResult{}, fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return types.BatchResult{}, fmt.Errorf("%w: current leader %s", coralerr.ErrNotLeader, m.LeaderAddr())
	}

	data := codec.Encode(batch)
	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return types.BatchResult{}, fmt.Errorf("%w: %v", coralerr.ErrReplicationTimeout, err)
	}

	resp := future.Response()
	if fatal, ok := resp.(*coralerr.FatalError); ok {
		// Normally unreachable: the FSM's fatal hook has already exited
		// the process before the apply future resolves. Kept so a
		// hookless configuration still surfaces the corruption instead
		// of misreading the response type as Internal.
		return types.BatchResult{}, fatal
	}
	result, ok := resp.(types.BatchResult)
	if !ok {
		return types.BatchResult{}, fmt.Errorf("%w: unexpected apply response type", coralerr.ErrInternal)
	}

	metrics.ApplyBatchThroughput.Add(float64(len(batch.Commands)))
	if result.Err != nil {
		metrics.TxAbortedTotal.WithLabelValues("apply_error").Inc()
	}
	m.publishBatchEvents(batch, result)
	return result, nil
}

// publishBatchEvents turns a committed batch's effect on transaction
// state into the events.Broker stream: CommitTx/AbortTx commands, and any
// command that failed with a DeadlockError, each surface as one event.
// This is the only place that does so because it is the only call site
// that has already resolved a batch all the way to a BatchResult.
func (m *Manager) publishBatchEvents(batch types.CommandBatch, result types.BatchResult) {
	var deadlock *coralerr.DeadlockError
	if errors.As(result.Err, &deadlock) {
		m.PublishEvent(&events.Event{
			Type:    events.EventDeadlockVictim,
			Message: fmt.Sprintf("tx %d aborted as deadlock victim", deadlock.Victim),
		})
		return
	}
	if result.Err != nil {
		return
	}
	for _, cmd := range batch.Commands {
		switch cmd.Kind {
		case types.CmdCommitTx:
			m.PublishEvent(&events.Event{
				Type:    events.EventTxCommitted,
				Message: fmt.Sprintf("tx %d committed", cmd.TxId),
			})
		case types.CmdAbortTx:
			m.PublishEvent(&events.Event{
				Type:    events.EventTxAborted,
				Message: fmt.Sprintf("tx %d aborted", cmd.TxId),
			})
		}
	}
}

// Read is the read-path half: a linearizable read confirms
// this node's leadership is still current (raft.VerifyLeader, the same
// check Propose relies on implicitly by going through raft.Apply) and
// waits for local apply to catch up to the commit index observed at probe
// time (waitForApply) before consulting MVCC. A follower
// asked for a linearizable read returns NotLeader rather than
// forwarding; a stale read
// (linearizable=false) is served directly from local MVCC state with no
// leadership check at all.
func (m *Manager) Read(ctx context.Context, table string, pk types.Value, linearizable bool) (types.Row, bool, error) {
	if linearizable {
		if m.raft == nil {
			return types.Row{}, false, fmt.Errorf("raft not initialized")
		}
		if !m.IsLeader() {
			return types.Row{}, false, fmt.Errorf("%w: current leader %s", coralerr.ErrNotLeader, m.LeaderAddr())
		}
		if err := m.raft.VerifyLeader().Error(); err != nil {
			return types.Row{}, false, fmt.Errorf("%w: %v", coralerr.ErrNotLeader, err)
		}
		if err := m.waitForApply(ctx, m.raft.CommitIndex()); err != nil {
			return types.Row{}, false, err
		}
	}
	row, ok := m.sm.ReadCommitted(table, pk)
	return row, ok, nil
}

// waitForApply blocks until raft's applied index catches up to index, or
// ctx is cancelled. Both sides of the comparison are raft log indexes
// (which count configuration entries as well as command batches), never
// CommandIds — the two number spaces drift apart as soon as the log holds
// its first configuration entry.
func (m *Manager) waitForApply(ctx context.Context, index uint64) error {
	for {
		if m.raft.AppliedIndex() >= index {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// GenerateJoinToken generates a new join token for adding nodes to the
// cluster. Only the leader may mint tokens.
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("%w: tokens can only be generated by the leader", coralerr.ErrNotLeader)
	}
	jt, err := m.tokenManager.GenerateToken(role, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	if err := m.saveTokens(); err != nil {
		return nil, fmt.Errorf("failed to persist join token: %w", err)
	}
	return jt, nil
}

// MintJoinToken mints a join token and returns its opaque value and
// expiry, the flattened form the Admin RPC surface needs (it cannot name
// *JoinToken without importing this package back into pkg/api).
func (m *Manager) MintJoinToken(role string) (string, time.Time, error) {
	jt, err := m.GenerateJoinToken(role)
	if err != nil {
		return "", time.Time{}, err
	}
	return jt.Token, jt.ExpiresAt, nil
}

// ValidateJoinToken validates a join token and returns its role.
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// NodeID returns the node's id.
func (m *Manager) NodeID() string {
	return m.nodeID
}

// Shutdown gracefully shuts down the manager: stops the event broker,
// shuts down Raft, and closes the storage file.
func (m *Manager) Shutdown() error {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}

	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}

// initializeCA initializes (or loads) the cluster's Certificate Authority
// and issues this node's own certificate if none exists yet. The
// certificate serves the Admin RPC gRPC server; the Raft TCP transport
// does not use TLS.
func (m *Manager) initializeCA() error {
	if !m.ca.IsInitialized() {
		if err := m.ca.Load(); err != nil {
			if err := m.ca.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize CA: %w", err)
			}
			if err := m.ca.Save(); err != nil {
				return fmt.Errorf("failed to save CA: %w", err)
			}
		}
	}

	certDir, err := security.GetCertDir("node", m.nodeID)
	if err != nil {
		return fmt.Errorf("failed to get cert directory: %w", err)
	}

	if !security.CertExists(certDir) {
		host, _, err := net.SplitHostPort(m.bindAddr)
		if err != nil {
			return fmt.Errorf("failed to parse bind address: %w", err)
		}
		var ipAddresses []net.IP
		if ip := net.ParseIP(host); ip != nil {
			ipAddresses = []net.IP{ip}
		}
		dnsNames := []string{fmt.Sprintf("node-%s", m.nodeID), "localhost"}

		cert, err := m.ca.IssueNodeCertificate(m.nodeID, "node", dnsNames, ipAddresses)
		if err != nil {
			return fmt.Errorf("failed to issue node certificate: %w", err)
		}
		if err := security.SaveCertToFile(cert, certDir); err != nil {
			return fmt.Errorf("failed to save certificate: %w", err)
		}
		if err := security.SaveCACertToFile(m.ca.GetRootCACert(), certDir); err != nil {
			return fmt.Errorf("failed to save CA certificate: %w", err)
		}
	}
	return nil
}

// CA exposes the Certificate Authority.
func (m *Manager) CA() *security.CertAuthority {
	return m.ca
}
