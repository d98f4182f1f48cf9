/*
Package events provides an in-memory event broker for CoralDB's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting cluster
events to interested subscribers. It supports asynchronous event delivery with
non-blocking publish, enabling loose coupling between the replication core,
the admin API, and monitoring without any component waiting on another.

# Architecture

CoralDB's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Transaction Events:                        │          │
	│  │    - tx.committed                           │          │
	│  │    - tx.aborted                             │          │
	│  │    - deadlock.victim_chosen                 │          │
	│  │                                              │          │
	│  │  Snapshot Events:                           │          │
	│  │    - snapshot.taken                         │          │
	│  │    - snapshot.installed                     │          │
	│  │                                              │          │
	│  │  Cluster Events:                            │          │
	│  │    - leadership.changed                     │          │
	│  │    - node.joined, node.left                 │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  None inside this repository; any caller    │          │
	│  │  holding the Broker may Subscribe()         │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier
  - Type: Event type (tx.committed, deadlock.victim_chosen, etc.)
  - Timestamp: When event occurred
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context
  - coral's own publishers set only Type and Message; ID and Metadata are
    left empty

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

Event Types:
  - Transaction: committed, aborted, deadlock victim chosen
  - Snapshot: taken, installed
  - Leadership: changed
  - Node: joined, left

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (non-blocking)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Subscribers receive event asynchronously
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created
 3. Channel registered in subscriber map
 4. Subscriber channel returned
 5. Subscriber receives events via channel
 6. Subscriber processes events in own goroutine

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map
 3. Channel closed
 4. Subscriber stops receiving events

# Usage

Creating and Starting Broker:

	import "github.com/coraldb/coral/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing Events:

	event := &events.Event{
		ID:      "evt-123",
		Type:    events.EventTxCommitted,
		Message: "Transaction 42 committed",
		Metadata: map[string]string{
			"tx_id":     "42",
			"commit_ts": "1071",
		},
	}
	broker.Publish(event)

Filtering Events by Type:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventDeadlockVictim:
				handleDeadlock(event)
			case events.EventLeadershipChanged:
				handleLeadershipChange(event)
			default:
				// Ignore other events
			}
		}
	}()

# Integration Points

This package integrates with:

  - pkg/manager: Publishes every event type: tx commit/abort and deadlock
    events from Propose, leadership events from its leadership watcher,
    node join/leave events from AddVoter/RemoveServer, and snapshot
    taken/installed events from hooks that pkg/statemachine calls

No package in this repository subscribes to the broker.

# Event Types Catalog

Every event below is published by pkg/manager with Type and Message set.

Transaction Events:

EventTxCommitted:
  - Published when: A proposed batch containing a CommitTx command is
    applied without error
  - Message: "tx <id> committed"

EventTxAborted:
  - Published when: A proposed batch containing an AbortTx command
    (explicit, or from maintenance reaping) is applied without error; a
    batch that fails, e.g. with a serialization failure, publishes no
    abort event
  - Message: "tx <id> aborted"

EventDeadlockVictim:
  - Published when: A proposed batch fails with a DeadlockError
  - Message: "tx <victim id> aborted as deadlock victim"

Snapshot Events:

EventSnapshotTaken:
  - Published when: The state machine captures a snapshot
  - Message: "snapshot taken at command <last applied command>"

EventSnapshotInstalled:
  - Published when: A snapshot is restored into the state machine
  - Message: "snapshot installed at command <last applied command>"

Cluster Events:

EventLeadershipChanged:
  - Published when: This node gains or loses Raft leadership
  - Message: "node <id> became <role>"

EventNodeJoined:
  - Published when: A voter is added to the cluster configuration
  - Message: "node <id> (<address>) joined the cluster"

EventNodeLeft:
  - Published when: A server is removed from the cluster configuration
  - Message: "node <id> left the cluster"

# Design Patterns

Non-Blocking Publish:
  - Publish sends to buffered channel
  - Returns immediately (no waiting)
  - Events may be dropped if buffer full
  - Trade-off: Throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel
  - Independent processing rates
  - Full buffers skip to prevent blocking

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Simplifies broker implementation
  - Suitable for monitoring, not critical operations

The apply path never depends on event delivery: a dropped event changes
nothing about replicated state. Anything that must be durable flows through
the replicated log, not the broker.

# Limitations

Current Limitations:
  - In-memory only (no persistence)
  - No event replay or history
  - No guaranteed delivery (best effort)
  - No topic-based filtering (all events broadcast)
  - No priority or ordering guarantees

Workarounds:
  - Persistence: Subscribe and write to a table
  - Guaranteed delivery: Use a separate message queue
  - Filtering: Filter at subscriber side by event type

# Best Practices

Do:
  - Always defer broker.Unsubscribe(sub)
  - Process events asynchronously in goroutine
  - Filter events by type at subscriber
  - Include relevant metadata in events
  - Start broker before publishing events

Don't:
  - Block in subscriber event loop
  - Publish events before broker.Start()
  - Forget to unsubscribe (causes leaks)
  - Rely on event delivery for replicated-state correctness

# See Also

  - pkg/manager for cluster state change events
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
