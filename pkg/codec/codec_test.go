package codec

import (
	"math"
	"testing"
	"time"

	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripAllCommandKinds(t *testing.T) {
	batch := types.CommandBatch{
		Id: 42,
		Commands: []types.ReplicatedCommand{
			{
				Kind:  types.CmdCreateTable,
				Table: "users",
				Schema: types.Schema{
					Columns: []types.ColumnDef{
						{Name: "id", Type: "integer", Nullable: false},
						{Name: "name", Type: "text", Nullable: true},
					},
					PrimaryKey: "id",
				},
			},
			{Kind: types.CmdDropTable, Table: "old_table"},
			{
				Kind:  types.CmdAlterTable,
				Table: "users",
				Alter: types.AlterOp{Kind: types.AlterAddColumn, Column: types.ColumnDef{Name: "age", Type: "integer", Nullable: true}},
			},
			{
				Kind:  types.CmdInsert,
				Table: "users",
				Row: types.Row{
					PK: types.IntegerValue(1),
					Columns: map[types.ColumnName]types.Value{
						"name": types.TextValue("Ada"),
						"age":  types.IntegerValue(30),
					},
				},
			},
			{
				Kind:      types.CmdUpdate,
				Table:     "users",
				Predicate: types.Predicate{PK: types.IntegerValue(1)},
				Assignments: map[types.ColumnName]types.Value{
					"age": types.IntegerValue(31),
				},
			},
			{Kind: types.CmdDelete, Table: "users", Predicate: types.Predicate{PK: types.IntegerValue(2)}},
			{Kind: types.CmdCreateIndex, Table: "users", Column: "name", Index: types.IndexKind("btree")},
			{Kind: types.CmdDropIndex, Table: "users", Column: "name"},
			{Kind: types.CmdBeginTx, TxId: 7, Isolation: types.Serializable},
			{Kind: types.CmdCommitTx, TxId: 7},
			{Kind: types.CmdAbortTx, TxId: 8},
		},
	}

	encoded := Encode(batch)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, batch, decoded)
}

func TestEncodeIsDeterministicAcrossMapOrdering(t *testing.T) {
	cmd := func() types.ReplicatedCommand {
		return types.ReplicatedCommand{
			Kind:  types.CmdInsert,
			Table: "users",
			Row: types.Row{
				PK: types.IntegerValue(1),
				Columns: map[types.ColumnName]types.Value{
					"z": types.TextValue("z"),
					"a": types.TextValue("a"),
					"m": types.TextValue("m"),
				},
			},
		}
	}

	b1 := Encode(types.CommandBatch{Id: 1, Commands: []types.ReplicatedCommand{cmd()}})
	b2 := Encode(types.CommandBatch{Id: 1, Commands: []types.ReplicatedCommand{cmd()}})
	assert.Equal(t, b1, b2, "Go map iteration order is randomized per-run; encoding must sort column names to stay byte-identical")
}

func TestEncodeValueAllKinds(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	values := []types.Value{
		types.NullValue(),
		types.IntegerValue(-42),
		types.FloatValue(3.5),
		types.FloatValue(-3.5),
		types.FloatValue(0),
		types.TextValue("hello"),
		types.BooleanValue(true),
		types.BooleanValue(false),
		types.DateValue(now),
		types.TimestampValue(now),
		types.TsVectorValue([]string{"foo", "bar"}),
	}

	for _, v := range values {
		batch := types.CommandBatch{Id: 1, Commands: []types.ReplicatedCommand{
			{Kind: types.CmdDelete, Table: "t", Predicate: types.Predicate{PK: v}},
		}}
		decoded, err := Decode(Encode(batch))
		require.NoError(t, err)
		got := decoded.Commands[0].Predicate.PK
		assert.Equal(t, v.Kind, got.Kind)
	}
}

func TestFloatNaNCanonicalizesToSingleBitPattern(t *testing.T) {
	nan1 := math.NaN()
	// A different NaN payload than math.NaN() produces, per IEEE-754 (any
	// non-zero mantissa with the exponent field all-ones is a NaN).
	nan2 := math.Float64frombits(0x7ff0000000000001)
	require.True(t, math.IsNaN(nan1))
	require.True(t, math.IsNaN(nan2))

	assert.Equal(t, types.CanonicalFloatBits(nan1), types.CanonicalFloatBits(nan2),
		"distinct NaN payloads must canonicalize to the same encoded bit pattern")
}

func TestFloatEncodingPreservesTotalOrder(t *testing.T) {
	ordered := []float64{math.Inf(-1), -3.5, -0.001, 0, 0.001, 3.5, math.Inf(1)}
	var bits []uint64
	for _, f := range ordered {
		bits = append(bits, types.CanonicalFloatBits(f))
	}
	for i := 1; i < len(bits); i++ {
		assert.Less(t, bits[i-1], bits[i], "canonical float bits must sort in the same order as the floats themselves")
	}
}

func TestFloatRoundTripsThroughCodec(t *testing.T) {
	for _, f := range []float64{0, -0.0, 1.5, -1.5, math.Inf(1), math.Inf(-1), math.MaxFloat64, -math.MaxFloat64} {
		batch := types.CommandBatch{Id: 1, Commands: []types.ReplicatedCommand{
			{Kind: types.CmdDelete, Table: "t", Predicate: types.Predicate{PK: types.FloatValue(f)}},
		}}
		decoded, err := Decode(Encode(batch))
		require.NoError(t, err)
		assert.Equal(t, f, decoded.Commands[0].Predicate.PK.Flt)
	}
}

func TestDecodeUnknownCommandTagIsFatal(t *testing.T) {
	encoded := Encode(types.CommandBatch{Id: 1, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdInsert, Table: "t", Row: types.Row{PK: types.IntegerValue(1)}},
	}})
	// Corrupt the tag byte (first byte after the 8-byte Id and 4-byte
	// command count) to an unused kind value.
	corrupted := append([]byte{}, encoded...)
	corrupted[12] = 0xFF
	_, err := Decode(corrupted)
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestTxIdRoundTripsOnInsertUpdateDelete(t *testing.T) {
	batch := types.CommandBatch{Id: 1, Commands: []types.ReplicatedCommand{
		{Kind: types.CmdInsert, TxId: 3, Table: "users", Row: types.Row{PK: types.IntegerValue(1)}},
		{Kind: types.CmdUpdate, TxId: 3, Table: "users", Predicate: types.Predicate{PK: types.IntegerValue(1)},
			Assignments: map[types.ColumnName]types.Value{"name": types.TextValue("x")}},
		{Kind: types.CmdDelete, TxId: 3, Table: "users", Predicate: types.Predicate{PK: types.IntegerValue(2)}},
		// Zero TxId (autocommit) must also round-trip, not be conflated with
		// an absent field.
		{Kind: types.CmdInsert, Table: "users", Row: types.Row{PK: types.IntegerValue(4)}},
	}}

	decoded, err := Decode(Encode(batch))
	require.NoError(t, err)
	require.Len(t, decoded.Commands, 4)
	assert.Equal(t, types.TxId(3), decoded.Commands[0].TxId)
	assert.Equal(t, types.TxId(3), decoded.Commands[1].TxId)
	assert.Equal(t, types.TxId(3), decoded.Commands[2].TxId)
	assert.Equal(t, types.TxId(0), decoded.Commands[3].TxId)
}

func TestPKKeyStableAcrossEquivalentValues(t *testing.T) {
	assert.Equal(t, PKKey(types.IntegerValue(5)), PKKey(types.IntegerValue(5)))
	assert.NotEqual(t, PKKey(types.IntegerValue(5)), PKKey(types.TextValue("5")))

	nan1 := types.FloatValue(math.NaN())
	nan2 := types.FloatValue(math.Float64frombits(0x7ff0000000000001))
	assert.Equal(t, PKKey(nan1), PKKey(nan2), "PKKey must use the canonical float transform so NaN primary keys are stable")
}
