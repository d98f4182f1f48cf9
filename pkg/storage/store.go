// store.go declares the Storage capability consumed by the state
// machine's apply path: an ordered table of rows, secondary and inverted
// indexes, and a durable KV blob.

package storage

import (
	"github.com/coraldb/coral/pkg/types"
)

// Store is the Storage interface consumed by the state machine. Every
// method is synchronous and either succeeds or returns a typed error; no
// partial mutation is ever observable
type Store interface {
	CreateTable(name string, schema types.Schema) error
	DropTable(name string) error
	AlterTable(name string, op types.AlterOp) error
	TableSchema(name string) (types.Schema, bool)
	Tables() []string

	Insert(table string, row types.Row) error
	Update(table string, pk types.Value, row types.Row) error
	Delete(table string, pk types.Value) error
	Get(table string, pk types.Value) (types.Row, bool, error)

	// Scan returns every row of table in primary-key byte order, which is
	// deterministic given bbolt's cursor ordering and is what makes
	// apply_batch's output reproducible across replicas.
	Scan(table string) ([]types.Row, error)

	CreateIndex(table string, column types.ColumnName, kind types.IndexKind) error
	DropIndex(table string, column types.ColumnName) error

	// SearchText looks up primary keys whose TsVector column contains
	// token, via the inverted index. It is the only entry point the
	// black-box text-search capability exposes (Non-goals excludes
	// ranking/fuzzy search).
	SearchText(table string, column types.ColumnName, token string) ([]types.Value, error)

	// RestoreFrom replaces all table contents with data, used by the
	// Snapshot Provider's restore path.
	RestoreFrom(data types.SnapshotData) error

	// Snapshot produces the full current contents of every table, used
	// by the Snapshot Provider's snapshot path.
	Snapshot() (types.SnapshotData, error)

	Close() error
}
