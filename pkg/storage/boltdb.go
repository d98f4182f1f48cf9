package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coraldb/coral/pkg/codec"
	"github.com/coraldb/coral/pkg/coralerr"
	"github.com/coraldb/coral/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var schemasBucket = []byte("schemas")

func tableBucket(name string) []byte { return []byte("tbl:" + name) }
func textIndexBucket(name string, col types.ColumnName) []byte {
	return []byte("text:" + name + ":" + string(col))
}

// BoltStore implements Store on top of go.etcd.io/bbolt. One bucket
// holds every
// table's row data (bucket name "tbl:<table>", keyed by the row's
// canonical primary-key string); one bucket per (table, TsVector column)
// holds the inverted text index (bucket name "text:<table>:<column>",
// keyed by token, value a JSON array of primary-key strings).
type BoltStore struct {
	mu sync.RWMutex
	db *bolt.DB

	schemas map[string]types.Schema
}

// NewBoltStore opens (creating if absent) the Storage file at
// <dataDir>/kv.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "kv.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}

	s := &BoltStore{db: db, schemas: make(map[string]types.Schema)}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(schemasBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}

	if err := s.loadSchemas(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) loadSchemas() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(schemasBucket)
		return b.ForEach(func(k, v []byte) error {
			var schema types.Schema
			if err := json.Unmarshal(v, &schema); err != nil {
				return err
			}
			s.schemas[string(k)] = schema
			return nil
		})
	})
}

func (s *BoltStore) CreateTable(name string, schema types.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schemas[name]; exists {
		return fmt.Errorf("%w: table %q already exists", coralerr.ErrSchemaViolation, name)
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrInternal, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(schemasBucket).Put([]byte(name), data); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(tableBucket(name))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}

	s.schemas[name] = schema
	return nil
}

func (s *BoltStore) DropTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schemas[name]; !exists {
		return fmt.Errorf("%w: table %q not found", coralerr.ErrSchemaViolation, name)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(schemasBucket).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.DeleteBucket(tableBucket(name))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	delete(s.schemas, name)
	return nil
}

func (s *BoltStore) AlterTable(name string, op types.AlterOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[name]
	if !ok {
		return fmt.Errorf("%w: table %q not found", coralerr.ErrSchemaViolation, name)
	}

	switch op.Kind {
	case types.AlterAddColumn:
		schema.Columns = append(schema.Columns, op.Column)
	case types.AlterDropColumn:
		out := schema.Columns[:0]
		for _, c := range schema.Columns {
			if c.Name != op.DropName {
				out = append(out, c)
			}
		}
		schema.Columns = out
	case types.AlterRenameColumn:
		for i, c := range schema.Columns {
			if c.Name == op.FromName {
				schema.Columns[i].Name = op.ToName
			}
		}
	default:
		return fmt.Errorf("%w: unknown alter op %q", coralerr.ErrSchemaViolation, op.Kind)
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrInternal, err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(schemasBucket).Put([]byte(name), data)
	}); err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	s.schemas[name] = schema
	return nil
}

func (s *BoltStore) TableSchema(name string) (types.Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[name]
	return schema, ok
}

func (s *BoltStore) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.schemas))
	for n := range s.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *BoltStore) Insert(table string, row types.Row) error {
	return s.putRow(table, row, true)
}

func (s *BoltStore) Update(table string, pk types.Value, row types.Row) error {
	return s.putRow(table, row, false)
}

func (s *BoltStore) putRow(table string, row types.Row, requireAbsent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[table]
	if !ok {
		return fmt.Errorf("%w: table %q not found", coralerr.ErrSchemaViolation, table)
	}
	if err := validateRow(schema, row); err != nil {
		return err
	}

	key := []byte(codec.PKKey(row.PK))
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrInternal, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		existing := b.Get(key)
		if requireAbsent && existing != nil {
			return coralerr.ErrConstraintViolation
		}
		if !requireAbsent && existing == nil {
			return fmt.Errorf("%w: row not found", coralerr.ErrConstraintViolation)
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		return indexRowLocked(tx, table, schema, row)
	})
	if err != nil {
		if errors.Is(err, coralerr.ErrConstraintViolation) {
			return err
		}
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	return nil
}

func (s *BoltStore) Delete(table string, pk types.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schemas[table]; !ok {
		return fmt.Errorf("%w: table %q not found", coralerr.ErrSchemaViolation, table)
	}

	key := []byte(codec.PKKey(pk))
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b.Get(key) == nil {
			return fmt.Errorf("%w: row not found", coralerr.ErrConstraintViolation)
		}
		return b.Delete(key)
	})
	if err != nil {
		if errors.Is(err, coralerr.ErrConstraintViolation) {
			return err
		}
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	return nil
}

func (s *BoltStore) Get(table string, pk types.Value) (types.Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.schemas[table]; !ok {
		return types.Row{}, false, fmt.Errorf("%w: table %q not found", coralerr.ErrSchemaViolation, table)
	}

	var row types.Row
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		data := b.Get([]byte(codec.PKKey(pk)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return types.Row{}, false, fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	return row, found, nil
}

// Scan returns every row of table in bbolt cursor order, i.e. ascending
// order of the canonical primary-key string — deterministic across
// replicas, which is the property apply_batch's determinism requirement
// needs from Storage.
func (s *BoltStore) Scan(table string) ([]types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.schemas[table]; !ok {
		return nil, fmt.Errorf("%w: table %q not found", coralerr.ErrSchemaViolation, table)
	}
	return s.scanLocked(table)
}

func (s *BoltStore) CreateIndex(table string, column types.ColumnName, kind types.IndexKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schemas[table]; !ok {
		return fmt.Errorf("%w: table %q not found", coralerr.ErrSchemaViolation, table)
	}

	if kind != types.IndexInverted {
		// Secondary B-tree indexes are a Storage-internal concern the
		// original B-tree implementation owns; this adapter only needs
		// to accept the declaration without error so callers that always
		// issue CreateIndex after CreateTable do not need to special
		// case the kind.
		return nil
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(textIndexBucket(table, column))
		return err
	}); err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}

	rows, err := s.scanLocked(table)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		for _, row := range rows {
			if v, ok := row.Columns[column]; ok && v.Kind == types.ValueTsVector {
				if err := addToTextIndexLocked(tx, table, column, row.PK, v.Tokens); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	return nil
}

func (s *BoltStore) DropIndex(table string, column types.ColumnName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket(textIndexBucket(table, column))
	})
	if err != nil && err != bolt.ErrBucketNotFound {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	return nil
}

func (s *BoltStore) SearchText(table string, column types.ColumnName, token string) ([]types.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pks []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(textIndexBucket(table, column))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(strings.ToLower(token)))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &pks)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}

	out := make([]types.Value, 0, len(pks))
	for _, p := range pks {
		out = append(out, types.TextValue(p))
	}
	return out, nil
}

func indexRowLocked(tx *bolt.Tx, table string, schema types.Schema, row types.Row) error {
	for _, col := range schema.Columns {
		if col.Type != types.ColumnTsVector {
			continue
		}
		b := tx.Bucket(textIndexBucket(table, col.Name))
		if b == nil {
			continue
		}
		v, ok := row.Columns[col.Name]
		if !ok || v.Kind != types.ValueTsVector {
			continue
		}
		if err := addToTextIndexLocked(tx, table, col.Name, row.PK, v.Tokens); err != nil {
			return err
		}
	}
	return nil
}

func addToTextIndexLocked(tx *bolt.Tx, table string, column types.ColumnName, pk types.Value, tokens []string) error {
	b := tx.Bucket(textIndexBucket(table, column))
	if b == nil {
		return nil
	}
	pkStr := codec.PKKey(pk)
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		var existing []string
		if data := b.Get([]byte(tok)); data != nil {
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
		}
		existing = appendUnique(existing, pkStr)
		data, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(tok), data); err != nil {
			return err
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

func (s *BoltStore) scanLocked(table string) ([]types.Row, error) {
	var rows []types.Row
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row types.Row
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}
	return rows, nil
}

// RestoreFrom drops and rebuilds every table bucket from data.
func (s *BoltStore) RestoreFrom(data types.SnapshotData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		for name := range s.schemas {
			_ = tx.DeleteBucket(tableBucket(name))
			_ = tx.Bucket(schemasBucket).Delete([]byte(name))
		}

		for _, t := range data.Tables {
			schemaData, err := json.Marshal(t.Schema)
			if err != nil {
				return err
			}
			if err := tx.Bucket(schemasBucket).Put([]byte(t.Name), schemaData); err != nil {
				return err
			}
			b, err := tx.CreateBucketIfNotExists(tableBucket(t.Name))
			if err != nil {
				return err
			}
			for _, row := range t.Rows {
				rowData, err := json.Marshal(row)
				if err != nil {
					return err
				}
				if err := b.Put([]byte(codec.PKKey(row.PK)), rowData); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", coralerr.ErrStorageIO, err)
	}

	s.schemas = make(map[string]types.Schema, len(data.Tables))
	for _, t := range data.Tables {
		s.schemas[t.Name] = t.Schema
	}
	return nil
}

// Snapshot captures the full current contents of every table.
func (s *BoltStore) Snapshot() (types.SnapshotData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.schemas))
	for n := range s.schemas {
		names = append(names, n)
	}
	sort.Strings(names)

	out := types.SnapshotData{Tables: make([]types.TableSnapshot, 0, len(names))}
	for _, name := range names {
		rows, err := s.scanLocked(name)
		if err != nil {
			return types.SnapshotData{}, err
		}
		out.Tables = append(out.Tables, types.TableSnapshot{
			Name:   name,
			Schema: s.schemas[name],
			Rows:   rows,
		})
	}
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func validateRow(schema types.Schema, row types.Row) error {
	if row.PK.IsNull() {
		return fmt.Errorf("%w: primary key cannot be null", coralerr.ErrConstraintViolation)
	}
	for _, col := range schema.Columns {
		v, present := row.Columns[col.Name]
		if !present || v.IsNull() {
			if !col.Nullable && col.Name != schema.PrimaryKey {
				return fmt.Errorf("%w: column %q is not nullable", coralerr.ErrConstraintViolation, col.Name)
			}
			continue
		}
		if !valueMatchesType(v, col.Type) {
			return fmt.Errorf("%w: column %q expects %s", coralerr.ErrSchemaViolation, col.Name, col.Type)
		}
	}
	return nil
}

func valueMatchesType(v types.Value, t types.ColumnType) bool {
	switch t {
	case types.ColumnInteger:
		return v.Kind == types.ValueInteger
	case types.ColumnFloat:
		return v.Kind == types.ValueFloat
	case types.ColumnText:
		return v.Kind == types.ValueText
	case types.ColumnBoolean:
		return v.Kind == types.ValueBoolean
	case types.ColumnDate:
		return v.Kind == types.ValueDate
	case types.ColumnTimestamp:
		return v.Kind == types.ValueTimestamp
	case types.ColumnTsVector:
		return v.Kind == types.ValueTsVector
	default:
		return false
	}
}
