package storage

import (
	"testing"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersSchema() types.Schema {
	return types.Schema{
		Columns: []types.ColumnDef{
			{Name: "id", Type: types.ColumnInteger, Nullable: false},
			{Name: "name", Type: types.ColumnText, Nullable: true},
		},
		PrimaryKey: "id",
	}
}

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateTableThenInsertGetScan(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTable("users", usersSchema()))

	row := types.Row{PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{
		"name": types.TextValue("Alice"),
	}}
	require.NoError(t, store.Insert("users", row))

	got, found, err := store.Get("users", types.IntegerValue(1))
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.PK.Equal(types.IntegerValue(1)))

	rows, err := store.Scan("users")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInsertDuplicatePrimaryKeyIsConstraintViolation(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTable("users", usersSchema()))

	row := types.Row{PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Alice")}}
	require.NoError(t, store.Insert("users", row))

	err := store.Insert("users", row)
	assert.ErrorIs(t, err, coralerr.ErrConstraintViolation)
}

func TestUpdateMissingRowIsConstraintViolation(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTable("users", usersSchema()))

	row := types.Row{PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Alice")}}
	err := store.Update("users", types.IntegerValue(1), row)
	assert.ErrorIs(t, err, coralerr.ErrConstraintViolation)
}

func TestDeleteThenGetNotFound(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTable("users", usersSchema()))
	row := types.Row{PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Alice")}}
	require.NoError(t, store.Insert("users", row))
	require.NoError(t, store.Delete("users", types.IntegerValue(1)))

	_, found, err := store.Get("users", types.IntegerValue(1))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTable("users", usersSchema()))
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, store.Insert("users", types.Row{
			PK:      types.IntegerValue(i),
			Columns: map[types.ColumnName]types.Value{"name": types.TextValue("u")},
		}))
	}

	data, err := store.Snapshot()
	require.NoError(t, err)
	require.Len(t, data.Tables, 1)
	assert.Len(t, data.Tables[0].Rows, 3)

	other := newTestStore(t)
	require.NoError(t, other.RestoreFrom(data))

	rows, err := other.Scan("users")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	schema, ok := other.TableSchema("users")
	require.True(t, ok)
	assert.Equal(t, usersSchema(), schema)
}

func TestSearchTextFindsRowsByToken(t *testing.T) {
	store := newTestStore(t)
	schema := types.Schema{
		Columns: []types.ColumnDef{
			{Name: "id", Type: types.ColumnInteger},
			{Name: "body", Type: types.ColumnTsVector, Nullable: true},
		},
		PrimaryKey: "id",
	}
	require.NoError(t, store.CreateTable("docs", schema))
	require.NoError(t, store.CreateIndex("docs", "body", types.IndexInverted))

	require.NoError(t, store.Insert("docs", types.Row{
		PK: types.IntegerValue(1),
		Columns: map[types.ColumnName]types.Value{
			"body": types.TsVectorValue([]string{"quick", "fox"}),
		},
	}))

	hits, err := store.SearchText("docs", "body", "fox")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "i:1", hits[0].Str)
}

func TestAlterTableAddAndDropColumn(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTable("users", usersSchema()))

	require.NoError(t, store.AlterTable("users", types.AlterOp{
		Kind:   types.AlterAddColumn,
		Column: types.ColumnDef{Name: "age", Type: types.ColumnInteger, Nullable: true},
	}))
	schema, _ := store.TableSchema("users")
	assert.Len(t, schema.Columns, 3)

	require.NoError(t, store.AlterTable("users", types.AlterOp{Kind: types.AlterDropColumn, DropName: "age"}))
	schema, _ = store.TableSchema("users")
	assert.Len(t, schema.Columns, 2)
}
