package mvcc

import (
	"testing"

	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(v string) types.Row {
	return types.Row{PK: types.TextValue("k1"), Columns: map[types.ColumnName]types.Value{
		"v": types.TextValue(v),
	}}
}

func TestGetUncommittedOverlay(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("uncommitted"))

	_, ok := s.Get(key, 100, false)
	assert.False(t, ok, "committed reader must not see a pending write")

	got, ok := s.Get(key, 100, true)
	require.True(t, ok)
	assert.Equal(t, "uncommitted", string(got.Columns["v"].Str))
}

func TestCommitMakesVersionVisible(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)

	_, ok := s.Get(key, 5, false)
	assert.False(t, ok, "a version must not be visible before its CreatedTs")

	got, ok := s.Get(key, 10, false)
	require.True(t, ok)
	assert.Equal(t, "v1", string(got.Columns["v"].Str))
}

func TestCommitSupersedesPriorVersion(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)

	s.PutVersion(2, key, row("v2"))
	s.CommitVersions(2, []types.RowKey{key}, 20)

	got, ok := s.Get(key, 15, false)
	require.True(t, ok)
	assert.Equal(t, "v1", string(got.Columns["v"].Str), "reader at ts 15 predates the second commit")

	got, ok = s.Get(key, 20, false)
	require.True(t, ok)
	assert.Equal(t, "v2", string(got.Columns["v"].Str))
}

func TestTombstoneHidesRow(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)

	s.Tombstone(2, key)
	s.CommitVersions(2, []types.RowKey{key}, 20)

	_, ok := s.Get(key, 20, false)
	assert.False(t, ok, "tombstoned row must not be visible at or after the delete commit")

	_, ok = s.Get(key, 15, false)
	assert.True(t, ok, "row must remain visible before the delete commit")
}

func TestAbortVersionsDiscardsPending(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.AbortVersions(1, []types.RowKey{key})

	_, ok := s.Get(key, 100, true)
	assert.False(t, ok, "aborted pending write must not be visible even to read-uncommitted")
}

func TestReadSetStillValid(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)

	readSet := map[types.RowKey]struct{}{key: {}}
	assert.True(t, s.ReadSetStillValid(readSet, 10), "no newer version exists yet")

	s.PutVersion(2, key, row("v2"))
	s.CommitVersions(2, []types.RowKey{key}, 20)

	assert.False(t, s.ReadSetStillValid(readSet, 10), "a version created after snapshotTs invalidates the read set")
}

func TestGCLeavesVersionsAboveCutoffInPlace(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)
	s.PutVersion(2, key, row("v2"))
	s.CommitVersions(2, []types.RowKey{key}, 20)

	assert.Equal(t, 2, s.VersionCount())

	collected := s.GC(15)
	assert.Equal(t, 0, collected, "v1's DeletedTs is 20, above the cutoff of 15")
	assert.Equal(t, 2, s.VersionCount())
}

func TestGCRetainsLiveChain(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)
	s.PutVersion(2, key, row("v2"))
	s.CommitVersions(2, []types.RowKey{key}, 20)

	// v1 was superseded (DeletedTs=20) when v2 committed. A GC cutoff above
	// 20 collects it; the live v2 version is never collected since it has
	// no DeletedTs.
	collected := s.GC(25)
	assert.Equal(t, 1, collected)
	assert.Equal(t, 1, s.VersionCount())

	got, ok := s.Get(key, 100, false)
	require.True(t, ok)
	assert.Equal(t, "v2", string(got.Columns["v"].Str))
}

func TestResetClearsState(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))
	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)

	s.Reset()
	assert.Equal(t, 0, s.VersionCount())
	_, ok := s.Get(key, 100, false)
	assert.False(t, ok)
}

func TestLoadCommittedSeedsSingleVersion(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))
	s.LoadCommitted(key, row("restored"), 5)

	got, ok := s.Get(key, 5, false)
	require.True(t, ok)
	assert.Equal(t, "restored", string(got.Columns["v"].Str))
	assert.Equal(t, 1, s.VersionCount())
}

func TestUncommitRemovesVersionAndLeavesNoTrace(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)

	s.Uncommit(key, 10)

	_, ok := s.Get(key, 10, false)
	assert.False(t, ok, "uncommitting the only version must leave the key invisible")
}

func TestGCDoesNotResurrectAnUncommittedVersion(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)
	s.Uncommit(key, 10)

	s.GC(1000)

	_, ok := s.Get(key, 1000, false)
	assert.False(t, ok, "GC must not rediscover an arena entry Uncommit already unlinked from chains")
}

func TestUncommitRestoresSupersededVersion(t *testing.T) {
	s := New()
	key := Key("users", types.TextValue("k1"))

	s.PutVersion(1, key, row("v1"))
	s.CommitVersions(1, []types.RowKey{key}, 10)

	s.PutVersion(2, key, row("v2"))
	s.CommitVersions(2, []types.RowKey{key}, 20)

	s.Uncommit(key, 20)

	got, ok := s.Get(key, 100, false)
	require.True(t, ok, "undoing the second commit must restore the first version's visibility")
	assert.Equal(t, "v1", string(got.Columns["v"].Str))
}
