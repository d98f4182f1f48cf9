package types

import (
	"fmt"
	"time"
)

// CommandId is a monotonically increasing identifier, unique per state
// machine instance. It doubles as the logical clock tick used to stamp
// MVCC versions: apply never reads the wall clock.
type CommandId uint64

// ValueKind discriminates the Value union.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueInteger
	ValueFloat
	ValueText
	ValueBoolean
	ValueDate
	ValueTimestamp
	ValueTsVector
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueInteger:
		return "integer"
	case ValueFloat:
		return "float"
	case ValueText:
		return "text"
	case ValueBoolean:
		return "boolean"
	case ValueDate:
		return "date"
	case ValueTimestamp:
		return "timestamp"
	case ValueTsVector:
		return "tsvector"
	default:
		return "unknown"
	}
}

// Value is a closed variant over the column types a Row may hold. Only one
// of the typed fields is meaningful, selected by Kind; this mirrors the
// tagged-union-over-struct style used for ReplicatedCommand below rather
// than an interface, so that encoding and comparison stay exhaustive and
// easy to audit.
type Value struct {
	Kind ValueKind

	Int  int64
	Flt  float64
	Str  string
	Bool bool
	Time time.Time

	// Tokens holds the tokenized form of a TsVector value. The tokenizer
	// itself is the text-search capability's concern (black-box index,
	// per Non-goals); Value only carries the already-tokenized result.
	Tokens []string
}

func NullValue() Value               { return Value{Kind: ValueNull} }
func IntegerValue(v int64) Value     { return Value{Kind: ValueInteger, Int: v} }
func FloatValue(v float64) Value     { return Value{Kind: ValueFloat, Flt: v} }
func TextValue(v string) Value       { return Value{Kind: ValueText, Str: v} }
func BooleanValue(v bool) Value      { return Value{Kind: ValueBoolean, Bool: v} }
func DateValue(v time.Time) Value    { return Value{Kind: ValueDate, Time: v} }
func TimestampValue(v time.Time) Value { return Value{Kind: ValueTimestamp, Time: v} }
func TsVectorValue(tokens []string) Value {
	return Value{Kind: ValueTsVector, Tokens: tokens}
}

func (v Value) IsNull() bool { return v.Kind == ValueNull }

// Equal reports structural equality, used by predicate evaluation and by
// tests validating determinism between replicas.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueNull:
		return true
	case ValueInteger:
		return v.Int == o.Int
	case ValueFloat:
		return canonicalFloatBits(v.Flt) == canonicalFloatBits(o.Flt)
	case ValueText:
		return v.Str == o.Str
	case ValueBoolean:
		return v.Bool == o.Bool
	case ValueDate, ValueTimestamp:
		return v.Time.Equal(o.Time)
	case ValueTsVector:
		if len(v.Tokens) != len(o.Tokens) {
			return false
		}
		for i := range v.Tokens {
			if v.Tokens[i] != o.Tokens[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ColumnName identifies a column within a table's schema.
type ColumnName string

// ColumnType names the declared type of a column, used for SchemaViolation
// checking on Insert/Update.
type ColumnType string

const (
	ColumnInteger  ColumnType = "integer"
	ColumnFloat    ColumnType = "float"
	ColumnText     ColumnType = "text"
	ColumnBoolean  ColumnType = "boolean"
	ColumnDate     ColumnType = "date"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnTsVector ColumnType = "tsvector"
)

// ColumnDef describes one column of a table schema.
type ColumnDef struct {
	Name     ColumnName
	Type     ColumnType
	Nullable bool
}

// Schema is a table's column list plus its primary key column.
type Schema struct {
	Columns    []ColumnDef
	PrimaryKey ColumnName
}

func (s Schema) ColumnType(name ColumnName) (ColumnType, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.Type, true
		}
	}
	return "", false
}

// Row is a single table row: a primary key value plus its column values.
type Row struct {
	PK      Value
	Columns map[ColumnName]Value
}

func (r Row) Clone() Row {
	cols := make(map[ColumnName]Value, len(r.Columns))
	for k, v := range r.Columns {
		cols[k] = v
	}
	return Row{PK: r.PK, Columns: cols}
}

// IndexKind distinguishes a secondary B-tree-style index from the
// black-box inverted text index.
type IndexKind string

const (
	IndexBTree    IndexKind = "btree"
	IndexInverted IndexKind = "inverted"
)

// AlterOp is the payload of an AlterTable command.
type AlterOpKind string

const (
	AlterAddColumn    AlterOpKind = "add_column"
	AlterDropColumn   AlterOpKind = "drop_column"
	AlterRenameColumn AlterOpKind = "rename_column"
)

type AlterOp struct {
	Kind      AlterOpKind
	Column    ColumnDef // used by AddColumn
	DropName  ColumnName
	FromName  ColumnName
	ToName    ColumnName
}

// Predicate selects rows by exact primary key match. The SQL frontend is
// out of scope; this is the minimal predicate shape the state machine
// needs to support Update/Delete deterministically.
type Predicate struct {
	PK Value
}

// IsolationLevel is one of the four levels the Transaction Manager
// supports.
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "read_uncommitted"
	ReadCommitted   IsolationLevel = "read_committed"
	RepeatableRead  IsolationLevel = "repeatable_read"
	Serializable    IsolationLevel = "serializable"
)

// TxState is a transaction's lifecycle state.
type TxState string

const (
	TxActive    TxState = "active"
	TxPreparing TxState = "preparing"
	TxCommitted TxState = "committed"
	TxAborted   TxState = "aborted"
)

// TxId identifies a transaction. It does not share the CommandId clock
// space; the id is supplied by the BeginTx command that opens the
// transaction, not drawn from a counter in the Transaction Manager.
type TxId uint64

// RowKey identifies one version chain: a table name plus a primary key.
type RowKey struct {
	Table string
	PK    string // canonical string form of the PK Value, see codec.PKKey
}

func (k RowKey) String() string { return fmt.Sprintf("%s/%s", k.Table, k.PK) }

// ReplicatedCommandKind tags the closed ReplicatedCommand variant set.
// New variants get new tag numbers (never reused); old replicas halt on
// unknown tags rather than silently skip them.
type ReplicatedCommandKind uint8

const (
	CmdCreateTable ReplicatedCommandKind = iota + 1
	CmdDropTable
	CmdAlterTable
	CmdInsert
	CmdUpdate
	CmdDelete
	CmdCreateIndex
	CmdDropIndex
	CmdBeginTx
	CmdCommitTx
	CmdAbortTx
)

// ReplicatedCommand is the sole mutation path: every state change in the
// system is expressible as one of these variants. Dispatch is a closed
// switch over Kind rather than a polymorphic handler interface, so that
// determinism auditing and canonical encoding stay exhaustive.
type ReplicatedCommand struct {
	Kind ReplicatedCommandKind

	// CreateTable / DropTable / AlterTable / CreateIndex / DropIndex
	Table  string
	Schema Schema
	Alter  AlterOp
	Column ColumnName
	Index  IndexKind

	// Insert / Update / Delete
	Row         Row
	Predicate   Predicate
	Assignments map[ColumnName]Value

	// TxId is required on BeginTx/CommitTx/AbortTx. On Insert/Update/Delete
	// it is optional: zero means the mutation is autocommit (applied and
	// made immediately visible with no surrounding transaction); nonzero
	// routes the mutation through that transaction's write set instead,
	// deferring visibility and durability to its CommitTx.
	TxId      TxId
	Isolation IsolationLevel
}

// CommandBatch is the unit of consensus-log payload: applied atomically,
// either all its commands take effect or none do.
type CommandBatch struct {
	Id       CommandId
	Commands []ReplicatedCommand
}

// PerCommandResult is the outcome of one command within a batch.
type PerCommandResult struct {
	Err error
}

// BatchResult is the cached, idempotent-replay-safe outcome of applying
// one CommandBatch.
type BatchResult struct {
	Id      CommandId
	Results []PerCommandResult
	Err     error // set if the whole batch failed and was rolled back
}

// MVCCVersion is one entry in a row's version chain.
type MVCCVersion struct {
	Row          Row
	CreatedByTx  TxId
	CreatedTs    uint64
	DeletedByTx  TxId
	DeletedTs    uint64
	HasDeletedTs bool
	Tombstone    bool
}

// Transaction tracks a live (or just-finished) transaction's bookkeeping.
type Transaction struct {
	Id         TxId
	Isolation  IsolationLevel
	State      TxState
	SnapshotTs uint64
	CommitTs   uint64
	WriteSet   map[RowKey]struct{}
	ReadSet    map[RowKey]struct{}
}

// SnapshotMeta describes a snapshot's provenance.
type SnapshotMeta struct {
	LastAppliedCommand CommandId
	SchemaVersion      uint32
	CreatedAt          time.Time
}

// TableSnapshot is one table's full row contents plus its schema, as
// captured by the Snapshot Provider.
type TableSnapshot struct {
	Name   string
	Schema Schema
	Rows   []Row
}

// SnapshotData is the serialized table contents: each table's schema and
// rows. Inverted text-index buckets are not included, and restoring from
// a SnapshotData does not rebuild them.
type SnapshotData struct {
	Tables []TableSnapshot
}
