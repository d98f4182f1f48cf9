/*
Package manager implements the Consensus Bridge: the Manager type
wraps a *raft.Raft instance and the StateMachine it drives, and is the only
component that knows how to turn a CommandBatch into a committed, applied
result.

# Architecture

	┌──────────────────────────── NODE ───────────────────────────┐
	│                                                                │
	│  ┌──────────────────────────────────────────────┐           │
	│  │         Admin RPC gRPC Server (pkg/api)       │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │                Manager                        │           │
	│  │  - Propose(): submit a CommandBatch via Raft  │           │
	│  │  - Bootstrap()/Join(): cluster membership     │           │
	│  │  - GenerateJoinToken(): node admission         │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │          hashicorp/raft Consensus Layer        │           │
	│  │  - Leader election, log replication            │           │
	│  │  - Drives StateMachine.Apply/Snapshot/Restore  │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │    StateMachine (pkg/statemachine, raft.FSM)   │           │
	│  │  - ApplyBatch(): the deterministic apply       │           │
	│  │  - owns Storage, Lock Manager, MVCC, TxManager │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │           BoltStore (pkg/storage)              │           │
	│  │  - tables, secondary indexes, inverted index   │           │
	│  └────────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Core Components

Manager:
  - Owns the *raft.Raft instance and the StateMachine it drives
  - Implements Propose(), the propose() hook
  - Bootstraps a new single-node cluster or joins an existing one
  - Mints and validates join tokens used to admit new voters
  - Owns the node's Certificate Authority, whose certificates serve the
    Admin RPC gRPC server's TLS listener (the Raft TCP transport does not
    use TLS)

TokenManager:
  - Generates and validates time-limited join tokens
  - Tokens are minted only by the current leader (GenerateJoinToken)

# Raft Consensus

CoralDB uses hashicorp/raft for the consensus protocol itself — the
election/replication algorithm is not reimplemented here. This package
implements only the contract the state machine exposes to it:
log-entry payload format (pkg/codec), the apply hook (StateMachine.Apply),
the snapshot hooks (StateMachine.Snapshot/Restore plus the portable
CreateSnapshotBytes/InstallSnapshotBytes pair used by Admin RPCs), and
ReadIndex (Manager.Read's waitForApply, run after raft.VerifyLeader
confirms this node's leadership is still current; callers that track
apply progress in command ids use StateMachine.ReadIndexReady instead).

Cluster sizes follow the usual Raft quorum rules: 3 nodes tolerate 1
failure, 5 tolerate 2. Write operations require majority quorum; reads
issued through the linearizable path additionally wait for the local
apply index to reach the commit index observed at probe time.

# Usage

Creating and bootstrapping a Manager:

	cfg := &manager.Config{
		NodeID:   "node-1",
		BindAddr: "192.168.1.10:9000",
		DataDir:  "/var/lib/coral/node-1",
	}

	mgr, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := mgr.Bootstrap(); err != nil {
		log.Fatal(err)
	}

Joining an existing cluster:

	mgr, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := mgr.Join("192.168.1.10:9000", joinToken); err != nil {
		log.Fatal(err)
	}

Proposing a CommandBatch:

	batch := types.CommandBatch{
		Id:       mgr.StateMachine().NextCommandID(),
		Commands: []types.ReplicatedCommand{ ... },
	}
	result, err := mgr.Propose(batch)
	if err != nil {
		log.Fatal(err)
	}

# Leadership

Only the Raft leader may call Propose, AddVoter, RemoveServer or mint join
tokens. A follower returns coralerr.ErrNotLeader (wrapped with the current
leader's address when known); the Admin RPC surface turns this into
a NotLeader{leader_hint} response rather than silently forwarding.

# Integration Points

This package integrates with:

  - pkg/statemachine: the raft.FSM driven by this Manager's *raft.Raft
  - pkg/storage: the durable Storage capability behind the state machine
  - pkg/api: the Admin RPC gRPC server built on top of a Manager
  - pkg/security: node/cluster Certificate Authority and mTLS material
  - pkg/events: cluster event publication (leadership changes, etc.)
  - pkg/maintenance: the periodic MVCC GC / abandoned-tx reaper loop
*/
package manager
