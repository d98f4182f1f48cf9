package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchResultWireRoundTrip(t *testing.T) {
	in := types.BatchResult{
		Id: 42,
		Results: []types.PerCommandResult{
			{},
			{Err: errors.New("constraint violation: duplicate pk")},
		},
		Err: errors.New("batch rolled back"),
	}

	data, err := json.Marshal(ToWireResult(in))
	require.NoError(t, err)

	var w BatchResultWire
	require.NoError(t, json.Unmarshal(data, &w))
	out := FromWireResult(w)

	assert.Equal(t, in.Id, out.Id)
	require.Len(t, out.Results, 2)
	assert.NoError(t, out.Results[0].Err)
	assert.EqualError(t, out.Results[1].Err, "constraint violation: duplicate pk")
	assert.EqualError(t, out.Err, "batch rolled back")
}

func TestBatchResultWireSuccessHasNoErrorFields(t *testing.T) {
	w := ToWireResult(types.BatchResult{Id: 7, Results: []types.PerCommandResult{{}}})
	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)

	out := FromWireResult(w)
	assert.NoError(t, out.Err)
	require.Len(t, out.Results, 1)
	assert.NoError(t, out.Results[0].Err)
}
