/*
Package storage provides BoltDB-backed persistence for the state machine's
row and schema data.

The storage package implements the Store interface on top of BoltDB
(bbolt), giving the state machine an embedded, transactional table store
with zero external dependencies.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              BoltStore                       │          │
	│  │  - File: <dataDir>/kv.db                     │          │
	│  │  - Format: B+tree                            │          │
	│  │  - Transactions: ACID with fsync             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ schemas           (table name)│           │          │
	│  │  │ tbl:<table>       (canon. PK) │           │          │
	│  │  │ text:<table>:<col> (token)    │           │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - concurrent reads        │          │
	│  │  - Write: db.Update() - serialized writes    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements the Store interface defined in store.go
  - One database file per state machine instance
  - Bucket-per-table plus bucket-per-inverted-index layout

Buckets:
  - schemas: one entry per table, JSON-encoded Schema
  - tbl:<table>: row data, keyed by the row's canonical primary-key string
  - text:<table>:<column>: inverted index for a TsVector column, keyed by
    lowercased token, value a JSON array of primary-key strings

# Operations

Table DDL (CreateTable, DropTable, AlterTable) mutate the schemas bucket
and the table's row bucket inside a single Update transaction, so a
crash mid-DDL leaves neither half applied.

Row CRUD (Insert, Update, Delete, Get) validate the row against its
schema before the write, so a SchemaViolation or ConstraintViolation is
returned before the bucket is ever touched.

Scan iterates the table bucket's cursor in key order, which is
canonical-PK-string order — the same order on every replica, since the
canonical PK encoding (codec.PKKey) does not depend on insertion
history. This is what makes apply_batch's output reproducible.

CreateIndex/SearchText maintain and query the inverted text index; they
are the storage half of the black-box text-search capability (the
tokenizer itself lives above this package).

RestoreFrom/Snapshot implement the Snapshot Provider's restore and
capture paths: RestoreFrom drops and rebuilds every table bucket from a
SnapshotData in one transaction; Snapshot walks every table via Scan.

# Integration Points

This package integrates with:

  - pkg/statemachine: the apply path is Store's sole caller
  - pkg/snapshot: Snapshot/RestoreFrom back the Snapshot Provider
  - pkg/mvcc: committed row contents originate here; uncommitted
    versions live only in the MVCC store until commit
  - pkg/types: Schema, Row, Value and the other data-model types

# See Also

  - pkg/statemachine for the apply path that drives this package
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
