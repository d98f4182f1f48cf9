package statemachine

import (
	"errors"
	"io"

	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/snapshot"
	"github.com/coraldb/coral/pkg/types"
	"github.com/hashicorp/raft"
)

// fsmSnapshot is the raft.FSMSnapshot returned by StateMachine.Snapshot. It
// carries the already-captured meta/data pair so Persist only needs to
// encode and write; the snapshot read barrier has already run by the time
// this value exists.
type fsmSnapshot struct {
	meta types.SnapshotMeta
	data types.SnapshotData
}

func newFSMSnapshot(s *StateMachine) (*fsmSnapshot, error) {
	meta, data, err := s.snapshotNow()
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{meta: meta, data: data}, nil
}

// Persist writes the on-disk format to sink. On any error the sink is
// cancelled so raft does not retain a partial snapshot file.
func (f *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	b, err := snapshot.Encode(f.meta, f.data)
	if err != nil {
		_ = sink.Cancel()
		return err
	}
	if _, err := sink.Write(b); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (f *fsmSnapshot) Release() {}

// restoreFSM implements the read half of raft.FSM.Restore: decode the
// snapshot file format and run the restore path. Decode failures route
// through the same fatal path as InstallSnapshotBytes.
func restoreFSM(s *StateMachine, rc io.ReadCloser) error {
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	meta, data, err := snapshot.Decode(b)
	if err != nil {
		if errors.Is(err, coralerr.ErrSnapshotVersionMismatch) || errors.Is(err, coralerr.ErrLogCorruption) {
			return s.reportFatal(coralerr.NewFatal(err))
		}
		return err
	}
	return s.restoreNow(meta, data)
}
