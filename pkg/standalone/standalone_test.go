package standalone

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersSchema() types.Schema {
	return types.Schema{
		Columns: []types.ColumnDef{
			{Name: "id", Type: types.ColumnInteger},
			{Name: "name", Type: types.ColumnText, Nullable: true},
		},
		PrimaryKey: "id",
	}
}

func insertUser(id int64, name string) types.ReplicatedCommand {
	return types.ReplicatedCommand{
		Kind:  types.CmdInsert,
		Table: "users",
		Row: types.Row{PK: types.IntegerValue(id), Columns: map[types.ColumnName]types.Value{
			"id":   types.IntegerValue(id),
			"name": types.TextValue(name),
		}},
	}
}

func TestOpenRefusesConsensusLogDirectory(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(dir, filepath.Join(dir, "raft"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "raft-log.db"), []byte{}, 0600))
	_, err = Open(dir, "")
	assert.Error(t, err, "a consensus log left by a clustered node must also refuse standalone mode")
}

func TestApplySurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	n, err := Open(dir, "")
	require.NoError(t, err)

	res, err := n.Apply([]types.ReplicatedCommand{{Kind: types.CmdCreateTable, Table: "users", Schema: usersSchema()}})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	res, err = n.Apply([]types.ReplicatedCommand{insertUser(1, "alice"), insertUser(2, "bob")})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.NoError(t, n.Close())

	// Reopen: the WAL replay must rebuild the same state, and the next
	// command id must continue past the replayed batches.
	n, err = Open(dir, "")
	require.NoError(t, err)
	defer n.Close()

	row, found := n.Read("users", types.IntegerValue(1))
	require.True(t, found)
	assert.True(t, row.Columns["name"].Equal(types.TextValue("alice")))

	assert.EqualValues(t, 2, n.StateMachine().LastApplied())

	res, err = n.Apply([]types.ReplicatedCommand{insertUser(3, "carol")})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.EqualValues(t, 3, res.Id)
}

func TestFailedBatchIsConsumedNotRetried(t *testing.T) {
	dir := t.TempDir()

	n, err := Open(dir, "")
	require.NoError(t, err)
	defer n.Close()

	res, err := n.Apply([]types.ReplicatedCommand{{Kind: types.CmdCreateTable, Table: "users", Schema: usersSchema()}})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	res, err = n.Apply([]types.ReplicatedCommand{insertUser(1, "alice")})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	// Duplicate PK: the batch fails, but it still consumed a command id.
	res, err = n.Apply([]types.ReplicatedCommand{insertUser(1, "alice-again")})
	require.NoError(t, err)
	assert.Error(t, res.Err)
	failedID := res.Id

	res, err = n.Apply([]types.ReplicatedCommand{insertUser(2, "bob")})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, failedID+1, res.Id)
}
