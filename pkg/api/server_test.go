package api

import (
	"context"
	"testing"
	"time"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/security"
	"github.com/coraldb/coral/pkg/statemachine"
	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeManager satisfies ClusterManager with a fixed role, for handler
// tests that do not need a live Raft cluster underneath.
type fakeManager struct {
	leader     bool
	leaderAddr string
	row        types.Row
	rowFound   bool
}

func (f *fakeManager) IsLeader() bool                        { return f.leader }
func (f *fakeManager) LeaderAddr() string                    { return f.leaderAddr }
func (f *fakeManager) GetRaftStats() map[string]interface{}  { return map[string]interface{}{} }
func (f *fakeManager) StateMachine() *statemachine.StateMachine { return nil }
func (f *fakeManager) Propose(types.CommandBatch) (types.BatchResult, error) {
	return types.BatchResult{}, nil
}
func (f *fakeManager) Read(ctx context.Context, table string, pk types.Value, linearizable bool) (types.Row, bool, error) {
	return f.row, f.rowFound, nil
}
func (f *fakeManager) AddVoter(nodeID, address string) error { return nil }
func (f *fakeManager) RemoveServer(nodeID string) error      { return nil }
func (f *fakeManager) ValidateJoinToken(token string) (string, error) {
	return "node", nil
}
func (f *fakeManager) MintJoinToken(role string) (string, time.Time, error) {
	return "tok", time.Now().Add(time.Hour), nil
}
func (f *fakeManager) CA() *security.CertAuthority { return nil }
func (f *fakeManager) NodeID() string              { return "n1" }

// A linearizable read sent to a follower must come back NotLeader with a
// leader hint, never be forwarded or silently served stale.
func TestLinearizableReadOnFollowerReturnsNotLeaderHint(t *testing.T) {
	s := &Server{manager: &fakeManager{leader: false, leaderAddr: "node_3:7700"}}

	_, err := s.Read(context.Background(), &ReadRequest{
		Table:        "users",
		PK:           types.IntegerValue(1),
		Linearizable: true,
	})
	require.Error(t, err)

	var notLeader *coralerr.NotLeaderError
	require.ErrorAs(t, err, &notLeader)
	assert.Equal(t, "node_3:7700", notLeader.LeaderHint)
}

// The same follower serves the read when the caller explicitly accepts a
// stale result.
func TestStaleReadOnFollowerIsServed(t *testing.T) {
	row := types.Row{PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{
		"name": types.TextValue("Alice"),
	}}
	s := &Server{manager: &fakeManager{leader: false, row: row, rowFound: true}}

	resp, err := s.Read(context.Background(), &ReadRequest{
		Table: "users",
		PK:    types.IntegerValue(1),
	})
	require.NoError(t, err)
	require.True(t, resp.Found)
	assert.Equal(t, "Alice", resp.Row.Columns["name"].Str)
}

func TestProposeOnFollowerReturnsNotLeader(t *testing.T) {
	s := &Server{manager: &fakeManager{leader: false, leaderAddr: "node_2:7700"}}

	_, err := s.Propose(context.Background(), &ProposeRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, coralerr.ErrNotLeader)
}

func TestGenerateTokenOnFollowerReturnsNotLeader(t *testing.T) {
	s := &Server{manager: &fakeManager{leader: false}}

	_, err := s.GenerateToken(context.Background(), &GenerateTokenRequest{Role: "node"})
	require.Error(t, err)
	assert.ErrorIs(t, err, coralerr.ErrNotLeader)
}

func TestGenerateTokenOnLeaderMints(t *testing.T) {
	s := &Server{manager: &fakeManager{leader: true}}

	resp, err := s.GenerateToken(context.Background(), &GenerateTokenRequest{})
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.Token)
	assert.False(t, resp.ExpiresAt.IsZero())
}
