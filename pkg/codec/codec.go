// Package codec implements the canonical, deterministic byte encoding of
// CommandBatch used both as the consensus-log entry payload and as
// the WAL record payload. The same bytes must be produced on every
// replica for the same CommandBatch value, so the encoding is a fixed,
// explicit binary layout rather than encoding/gob or reflection-based
// JSON (whose map key ordering and type registration are not a contract
// this package wants to depend on).
//
// Schema-evolution rule: new ReplicatedCommand variants get new tag
// numbers, never reused; Decode fail-stops on an unrecognized tag instead
// of skipping it.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/coraldb/coral/pkg/types"
)

// ErrUnknownTag is returned by Decode when it encounters a tag number this
// build does not recognize. Callers must treat this as log corruption
// (fatal); the node must stop applying rather than diverge.
var ErrUnknownTag = fmt.Errorf("codec: unknown tag")

// Encode produces the canonical byte encoding of a CommandBatch.
func Encode(b types.CommandBatch) []byte {
	var buf bytes.Buffer
	putUint64(&buf, uint64(b.Id))
	putUint32(&buf, uint32(len(b.Commands)))
	for _, cmd := range b.Commands {
		encodeCommand(&buf, cmd)
	}
	return buf.Bytes()
}

// Decode parses the canonical byte encoding back into a CommandBatch.
func Decode(data []byte) (types.CommandBatch, error) {
	r := bytes.NewReader(data)
	id, err := getUint64(r)
	if err != nil {
		return types.CommandBatch{}, err
	}
	n, err := getUint32(r)
	if err != nil {
		return types.CommandBatch{}, err
	}
	cmds := make([]types.ReplicatedCommand, 0, n)
	for i := uint32(0); i < n; i++ {
		cmd, err := decodeCommand(r)
		if err != nil {
			return types.CommandBatch{}, err
		}
		cmds = append(cmds, cmd)
	}
	return types.CommandBatch{Id: types.CommandId(id), Commands: cmds}, nil
}

func encodeCommand(buf *bytes.Buffer, cmd types.ReplicatedCommand) {
	buf.WriteByte(byte(cmd.Kind))
	switch cmd.Kind {
	case types.CmdCreateTable:
		putString(buf, cmd.Table)
		encodeSchema(buf, cmd.Schema)
	case types.CmdDropTable:
		putString(buf, cmd.Table)
	case types.CmdAlterTable:
		putString(buf, cmd.Table)
		encodeAlterOp(buf, cmd.Alter)
	case types.CmdInsert:
		putUint64(buf, uint64(cmd.TxId))
		putString(buf, cmd.Table)
		encodeRow(buf, cmd.Row)
	case types.CmdUpdate:
		putUint64(buf, uint64(cmd.TxId))
		putString(buf, cmd.Table)
		encodeValue(buf, cmd.Predicate.PK)
		putUint32(buf, uint32(len(cmd.Assignments)))
		for _, name := range sortedColumnNames(cmd.Assignments) {
			putString(buf, string(name))
			encodeValue(buf, cmd.Assignments[name])
		}
	case types.CmdDelete:
		putUint64(buf, uint64(cmd.TxId))
		putString(buf, cmd.Table)
		encodeValue(buf, cmd.Predicate.PK)
	case types.CmdCreateIndex:
		putString(buf, cmd.Table)
		putString(buf, string(cmd.Column))
		putString(buf, string(cmd.Index))
	case types.CmdDropIndex:
		putString(buf, cmd.Table)
		putString(buf, string(cmd.Column))
	case types.CmdBeginTx:
		putUint64(buf, uint64(cmd.TxId))
		putString(buf, string(cmd.Isolation))
	case types.CmdCommitTx, types.CmdAbortTx:
		putUint64(buf, uint64(cmd.TxId))
	}
}

func decodeCommand(r *bytes.Reader) (types.ReplicatedCommand, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return types.ReplicatedCommand{}, err
	}
	kind := types.ReplicatedCommandKind(tagByte)
	cmd := types.ReplicatedCommand{Kind: kind}
	switch kind {
	case types.CmdCreateTable:
		cmd.Table, err = getString(r)
		if err != nil {
			return cmd, err
		}
		cmd.Schema, err = decodeSchema(r)
	case types.CmdDropTable:
		cmd.Table, err = getString(r)
	case types.CmdAlterTable:
		if cmd.Table, err = getString(r); err != nil {
			return cmd, err
		}
		cmd.Alter, err = decodeAlterOp(r)
	case types.CmdInsert:
		var txID uint64
		if txID, err = getUint64(r); err != nil {
			return cmd, err
		}
		cmd.TxId = types.TxId(txID)
		if cmd.Table, err = getString(r); err != nil {
			return cmd, err
		}
		cmd.Row, err = decodeRow(r)
	case types.CmdUpdate:
		var txID uint64
		if txID, err = getUint64(r); err != nil {
			return cmd, err
		}
		cmd.TxId = types.TxId(txID)
		if cmd.Table, err = getString(r); err != nil {
			return cmd, err
		}
		var pk types.Value
		if pk, err = decodeValue(r); err != nil {
			return cmd, err
		}
		cmd.Predicate = types.Predicate{PK: pk}
		var n uint32
		if n, err = getUint32(r); err != nil {
			return cmd, err
		}
		cmd.Assignments = make(map[types.ColumnName]types.Value, n)
		for i := uint32(0); i < n; i++ {
			var name string
			if name, err = getString(r); err != nil {
				return cmd, err
			}
			var v types.Value
			if v, err = decodeValue(r); err != nil {
				return cmd, err
			}
			cmd.Assignments[types.ColumnName(name)] = v
		}
	case types.CmdDelete:
		var txID uint64
		if txID, err = getUint64(r); err != nil {
			return cmd, err
		}
		cmd.TxId = types.TxId(txID)
		if cmd.Table, err = getString(r); err != nil {
			return cmd, err
		}
		var pk types.Value
		pk, err = decodeValue(r)
		cmd.Predicate = types.Predicate{PK: pk}
	case types.CmdCreateIndex:
		if cmd.Table, err = getString(r); err != nil {
			return cmd, err
		}
		var col, idx string
		if col, err = getString(r); err != nil {
			return cmd, err
		}
		cmd.Column = types.ColumnName(col)
		idx, err = getString(r)
		cmd.Index = types.IndexKind(idx)
	case types.CmdDropIndex:
		if cmd.Table, err = getString(r); err != nil {
			return cmd, err
		}
		var col string
		col, err = getString(r)
		cmd.Column = types.ColumnName(col)
	case types.CmdBeginTx:
		var id uint64
		if id, err = getUint64(r); err != nil {
			return cmd, err
		}
		cmd.TxId = types.TxId(id)
		var iso string
		iso, err = getString(r)
		cmd.Isolation = types.IsolationLevel(iso)
	case types.CmdCommitTx, types.CmdAbortTx:
		var id uint64
		id, err = getUint64(r)
		cmd.TxId = types.TxId(id)
	default:
		return cmd, fmt.Errorf("%w: %d", ErrUnknownTag, tagByte)
	}
	return cmd, err
}

func encodeSchema(buf *bytes.Buffer, s types.Schema) {
	putUint32(buf, uint32(len(s.Columns)))
	for _, c := range s.Columns {
		putString(buf, string(c.Name))
		putString(buf, string(c.Type))
		if c.Nullable {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	putString(buf, string(s.PrimaryKey))
}

func decodeSchema(r *bytes.Reader) (types.Schema, error) {
	n, err := getUint32(r)
	if err != nil {
		return types.Schema{}, err
	}
	cols := make([]types.ColumnDef, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := getString(r)
		if err != nil {
			return types.Schema{}, err
		}
		typ, err := getString(r)
		if err != nil {
			return types.Schema{}, err
		}
		nb, err := r.ReadByte()
		if err != nil {
			return types.Schema{}, err
		}
		cols = append(cols, types.ColumnDef{Name: types.ColumnName(name), Type: types.ColumnType(typ), Nullable: nb == 1})
	}
	pk, err := getString(r)
	if err != nil {
		return types.Schema{}, err
	}
	return types.Schema{Columns: cols, PrimaryKey: types.ColumnName(pk)}, nil
}

func encodeAlterOp(buf *bytes.Buffer, op types.AlterOp) {
	putString(buf, string(op.Kind))
	switch op.Kind {
	case types.AlterAddColumn:
		putString(buf, string(op.Column.Name))
		putString(buf, string(op.Column.Type))
		if op.Column.Nullable {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case types.AlterDropColumn:
		putString(buf, string(op.DropName))
	case types.AlterRenameColumn:
		putString(buf, string(op.FromName))
		putString(buf, string(op.ToName))
	}
}

func decodeAlterOp(r *bytes.Reader) (types.AlterOp, error) {
	kind, err := getString(r)
	if err != nil {
		return types.AlterOp{}, err
	}
	op := types.AlterOp{Kind: types.AlterOpKind(kind)}
	switch op.Kind {
	case types.AlterAddColumn:
		name, err := getString(r)
		if err != nil {
			return op, err
		}
		typ, err := getString(r)
		if err != nil {
			return op, err
		}
		nb, err := r.ReadByte()
		if err != nil {
			return op, err
		}
		op.Column = types.ColumnDef{Name: types.ColumnName(name), Type: types.ColumnType(typ), Nullable: nb == 1}
	case types.AlterDropColumn:
		name, err := getString(r)
		if err != nil {
			return op, err
		}
		op.DropName = types.ColumnName(name)
	case types.AlterRenameColumn:
		from, err := getString(r)
		if err != nil {
			return op, err
		}
		to, err := getString(r)
		if err != nil {
			return op, err
		}
		op.FromName, op.ToName = types.ColumnName(from), types.ColumnName(to)
	}
	return op, nil
}

func encodeRow(buf *bytes.Buffer, row types.Row) {
	encodeValue(buf, row.PK)
	putUint32(buf, uint32(len(row.Columns)))
	for _, name := range sortedColumnNames(row.Columns) {
		putString(buf, string(name))
		encodeValue(buf, row.Columns[name])
	}
}

func decodeRow(r *bytes.Reader) (types.Row, error) {
	pk, err := decodeValue(r)
	if err != nil {
		return types.Row{}, err
	}
	n, err := getUint32(r)
	if err != nil {
		return types.Row{}, err
	}
	var cols map[types.ColumnName]types.Value
	if n > 0 {
		cols = make(map[types.ColumnName]types.Value, n)
	}
	for i := uint32(0); i < n; i++ {
		name, err := getString(r)
		if err != nil {
			return types.Row{}, err
		}
		v, err := decodeValue(r)
		if err != nil {
			return types.Row{}, err
		}
		cols[types.ColumnName(name)] = v
	}
	return types.Row{PK: pk, Columns: cols}, nil
}

func encodeValue(buf *bytes.Buffer, v types.Value) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case types.ValueNull:
	case types.ValueInteger:
		putUint64(buf, uint64(v.Int))
	case types.ValueFloat:
		putUint64(buf, types.CanonicalFloatBits(v.Flt))
	case types.ValueText:
		putString(buf, v.Str)
	case types.ValueBoolean:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case types.ValueDate, types.ValueTimestamp:
		putUint64(buf, uint64(v.Time.UTC().UnixNano()))
	case types.ValueTsVector:
		putUint32(buf, uint32(len(v.Tokens)))
		for _, t := range v.Tokens {
			putString(buf, t)
		}
	}
}

func decodeValue(r *bytes.Reader) (types.Value, error) {
	kb, err := r.ReadByte()
	if err != nil {
		return types.Value{}, err
	}
	kind := types.ValueKind(kb)
	switch kind {
	case types.ValueNull:
		return types.NullValue(), nil
	case types.ValueInteger:
		u, err := getUint64(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.IntegerValue(int64(u)), nil
	case types.ValueFloat:
		u, err := getUint64(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.FloatValue(decodeCanonicalFloat(u)), nil
	case types.ValueText:
		s, err := getString(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.TextValue(s), nil
	case types.ValueBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return types.Value{}, err
		}
		return types.BooleanValue(b == 1), nil
	case types.ValueDate:
		u, err := getUint64(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.DateValue(time.Unix(0, int64(u)).UTC()), nil
	case types.ValueTimestamp:
		u, err := getUint64(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.TimestampValue(time.Unix(0, int64(u)).UTC()), nil
	case types.ValueTsVector:
		n, err := getUint32(r)
		if err != nil {
			return types.Value{}, err
		}
		toks := make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			t, err := getString(r)
			if err != nil {
				return types.Value{}, err
			}
			toks = append(toks, t)
		}
		return types.TsVectorValue(toks), nil
	default:
		return types.Value{}, fmt.Errorf("%w: value kind %d", ErrUnknownTag, kb)
	}
}

// decodeCanonicalFloat inverts the total-order transform applied by
// types.CanonicalFloatBits.
func decodeCanonicalFloat(bits uint64) float64 {
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func sortedColumnNames(m map[types.ColumnName]types.Value) []types.ColumnName {
	names := make([]types.ColumnName, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	// Simple insertion sort: assignment/column maps are small, and this
	// avoids pulling in sort.Slice's reflection-based comparator for a
	// hot encode path.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func getUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func getUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func getString(r *bytes.Reader) (string, error) {
	n, err := getUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	return io.ReadFull(r, b)
}

// PKKey produces the canonical string form of a primary-key Value used as
// the RowKey.PK field, so that (table, pk) pairs hash and compare
// consistently regardless of the underlying Value's dynamic type.
func PKKey(v types.Value) string {
	switch v.Kind {
	case types.ValueInteger:
		return fmt.Sprintf("i:%d", v.Int)
	case types.ValueFloat:
		return fmt.Sprintf("f:%x", types.CanonicalFloatBits(v.Flt))
	case types.ValueText:
		return "s:" + v.Str
	case types.ValueBoolean:
		return fmt.Sprintf("b:%t", v.Bool)
	case types.ValueDate, types.ValueTimestamp:
		return fmt.Sprintf("t:%d", v.Time.UTC().UnixNano())
	default:
		return fmt.Sprintf("?:%v", v)
	}
}
