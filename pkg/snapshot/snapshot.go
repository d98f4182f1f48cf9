// Package snapshot implements the on-disk snapshot file format and
// the Snapshot Provider contract: encoding/decoding a
// (SnapshotMeta, SnapshotData) pair to the self-describing byte layout the
// Consensus Bridge persists and transfers to lagging followers.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/types"
)

// Magic identifies a snapshot file; CurrentVersion is bumped whenever the
// framing or the meta/data encoding changes in an incompatible way. A
// version mismatch is fatal.
var Magic = [4]byte{'C', 'R', 'L', 'S'}

const CurrentVersion uint32 = 1

// Encode serializes meta and data into the format:
//
//	magic(4) | version(u32) | meta_len(u32) | meta | data_len(u64) | data | crc32(u32)
//
// meta and data are JSON-encoded; the framing (magic/version/lengths/crc)
// is what callers actually parse structurally, so the inner encoding only
// needs to round-trip, not to be canonical across replicas — unlike the
// consensus-log payload, a snapshot is never compared byte-for-byte across
// nodes, only decoded and checked for content equality.
func Encode(meta types.SnapshotMeta, data types.SnapshotData) ([]byte, error) {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: encode meta: %v", coralerr.ErrInternal, err)
	}
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode data: %v", coralerr.ErrInternal, err)
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	_ = binary.Write(&buf, binary.BigEndian, CurrentVersion)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(metaBytes)))
	buf.Write(metaBytes)
	_ = binary.Write(&buf, binary.BigEndian, uint64(len(dataBytes)))
	buf.Write(dataBytes)

	sum := crc32.ChecksumIEEE(buf.Bytes())
	_ = binary.Write(&buf, binary.BigEndian, sum)
	return buf.Bytes(), nil
}

// Decode parses the framing written by Encode, verifying magic, version and
// crc32 before touching the payload. Any framing failure is surfaced as
// coralerr.ErrSnapshotVersionMismatch or coralerr.ErrLogCorruption, both
// fatal, and the process must stop applying.
func Decode(b []byte) (types.SnapshotMeta, types.SnapshotData, error) {
	var meta types.SnapshotMeta
	var data types.SnapshotData

	if len(b) < 4+4+4+8+4 {
		return meta, data, fmt.Errorf("%w: snapshot too short", coralerr.ErrLogCorruption)
	}
	if !bytes.Equal(b[:4], Magic[:]) {
		return meta, data, fmt.Errorf("%w: bad magic", coralerr.ErrSnapshotVersionMismatch)
	}

	body := b[:len(b)-4]
	wantSum := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.ChecksumIEEE(body) != wantSum {
		return meta, data, fmt.Errorf("%w: crc mismatch", coralerr.ErrLogCorruption)
	}

	r := bytes.NewReader(b[4:])
	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return meta, data, fmt.Errorf("%w: %v", coralerr.ErrLogCorruption, err)
	}
	if version != CurrentVersion {
		return meta, data, fmt.Errorf("%w: version %d, want %d", coralerr.ErrSnapshotVersionMismatch, version, CurrentVersion)
	}

	var metaLen uint32
	if err := binary.Read(r, binary.BigEndian, &metaLen); err != nil {
		return meta, data, fmt.Errorf("%w: %v", coralerr.ErrLogCorruption, err)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return meta, data, fmt.Errorf("%w: %v", coralerr.ErrLogCorruption, err)
	}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return meta, data, fmt.Errorf("%w: decode meta: %v", coralerr.ErrLogCorruption, err)
	}

	var dataLen uint64
	if err := binary.Read(r, binary.BigEndian, &dataLen); err != nil {
		return meta, data, fmt.Errorf("%w: %v", coralerr.ErrLogCorruption, err)
	}
	dataBytes := make([]byte, dataLen)
	if _, err := io.ReadFull(r, dataBytes); err != nil {
		return meta, data, fmt.Errorf("%w: %v", coralerr.ErrLogCorruption, err)
	}
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return meta, data, fmt.Errorf("%w: decode data: %v", coralerr.ErrLogCorruption, err)
	}

	return meta, data, nil
}
