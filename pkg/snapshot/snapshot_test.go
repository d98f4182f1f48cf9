package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"testing"
	"time"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeWithVersion mirrors Encode but stamps an arbitrary version number,
// with a correctly recomputed crc, so tests can exercise the version check
// in isolation from the crc check that runs before it.
func encodeWithVersion(t *testing.T, version uint32, meta types.SnapshotMeta, data types.SnapshotData) []byte {
	t.Helper()
	metaBytes, err := json.Marshal(meta)
	require.NoError(t, err)
	dataBytes, err := json.Marshal(data)
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.Write(Magic[:])
	require.NoError(t, binary.Write(&buf, binary.BigEndian, version))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(metaBytes))))
	buf.Write(metaBytes)
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint64(len(dataBytes))))
	buf.Write(dataBytes)

	sum := crc32.ChecksumIEEE(buf.Bytes())
	require.NoError(t, binary.Write(&buf, binary.BigEndian, sum))
	return buf.Bytes()
}

func sampleMeta() types.SnapshotMeta {
	return types.SnapshotMeta{
		LastAppliedCommand: 42,
		SchemaVersion:      3,
		CreatedAt:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func sampleData() types.SnapshotData {
	return types.SnapshotData{
		Tables: []types.TableSnapshot{
			{
				Name: "users",
				Schema: types.Schema{
					Columns:    []types.ColumnDef{{Name: "id", Type: "integer"}, {Name: "name", Type: "text"}},
					PrimaryKey: "id",
				},
				Rows: []types.Row{
					{PK: types.IntegerValue(1), Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Ada")}},
					{PK: types.IntegerValue(2), Columns: map[types.ColumnName]types.Value{"name": types.TextValue("Bob")}},
				},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	meta, data := sampleMeta(), sampleData()
	encoded, err := Encode(meta, data)
	require.NoError(t, err)

	gotMeta, gotData, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, meta.LastAppliedCommand, gotMeta.LastAppliedCommand)
	assert.Equal(t, meta.SchemaVersion, gotMeta.SchemaVersion)
	assert.True(t, meta.CreatedAt.Equal(gotMeta.CreatedAt))
	assert.Equal(t, data, gotData)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	encoded, err := Encode(sampleMeta(), sampleData())
	require.NoError(t, err)
	corrupted := append([]byte{}, encoded...)
	corrupted[0] = 'X'

	_, _, err = Decode(corrupted)
	assert.ErrorIs(t, err, coralerr.ErrSnapshotVersionMismatch)
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	encoded := encodeWithVersion(t, CurrentVersion+1, sampleMeta(), sampleData())

	_, _, err := Decode(encoded)
	assert.ErrorIs(t, err, coralerr.ErrSnapshotVersionMismatch)
}

func TestDecodeRejectsCRCMismatch(t *testing.T) {
	encoded, err := Encode(sampleMeta(), sampleData())
	require.NoError(t, err)

	corrupted := append([]byte{}, encoded...)
	corrupted[len(corrupted)/2] ^= 0xFF

	_, _, err = Decode(corrupted)
	assert.ErrorIs(t, err, coralerr.ErrLogCorruption)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, _, err := Decode([]byte{'C', 'R', 'L'})
	assert.ErrorIs(t, err, coralerr.ErrLogCorruption)
}
