package test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tigerroll/replica/pkg/replica/component/writer"
	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/pipeline"
)

// FakeDatabases is an in-memory source and destination implementing
// pipeline.Connector. Table names are case-insensitive.
type FakeDatabases struct {
	mu sync.Mutex

	snapshots map[string]*model.RowSet
	changes   map[string]*model.RowSet
	dest      map[string][]string

	fetchErr map[string]error
	writeErr map[string]error

	Truncated  []string
	Written    map[string]*model.RowSet
	WriteCalls map[string]int
	Open       int
	MaxOpen    int
}

// NewFakeDatabases creates empty fake databases.
func NewFakeDatabases() *FakeDatabases {
	return &FakeDatabases{
		snapshots:  map[string]*model.RowSet{},
		changes:    map[string]*model.RowSet{},
		dest:       map[string][]string{},
		fetchErr:   map[string]error{},
		writeErr:   map[string]error{},
		Written:    map[string]*model.RowSet{},
		WriteCalls: map[string]int{},
	}
}

// AddTable creates a source table holding rows and a matching destination table
// (its columns plus CDC_Type).
func (f *FakeDatabases) AddTable(name string, columns []string, rows ...[]any) *FakeDatabases {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := &model.RowSet{Entity: name, Columns: columns}
	for _, r := range rows {
		rs.Rows = append(rs.Rows, model.RowChangeRecord{Values: r, Op: model.OpNew})
	}
	f.snapshots[key(name)] = rs
	f.dest[key(name)] = append(append([]string(nil), columns...), model.OperationColumn)
	return f
}

// AddSourceOnly creates a source table with no destination table.
func (f *FakeDatabases) AddSourceOnly(name string, columns []string) *FakeDatabases {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[key(name)] = &model.RowSet{Entity: name, Columns: columns}
	return f
}

// SetChanges sets the change set returned for name.
func (f *FakeDatabases) SetChanges(name string, rs *model.RowSet) *FakeDatabases {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes[key(name)] = rs
	return f
}

// FailFetch makes every fetch of name fail with err.
func (f *FakeDatabases) FailFetch(name string, err error) *FakeDatabases {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr[key(name)] = err
	return f
}

// FailWrite makes every write into name fail with err.
func (f *FakeDatabases) FailWrite(name string, err error) *FakeDatabases {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr[key(name)] = err
	return f
}

// Tables returns the source table names.
func (f *FakeDatabases) Tables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.snapshots))
	for _, rs := range f.snapshots {
		out = append(out, rs.Entity)
	}
	return out
}

// WasTruncated reports whether name was truncated.
func (f *FakeDatabases) WasTruncated(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.Truncated {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// WrittenRows returns the rows of the last write into name, or nil.
func (f *FakeDatabases) WrittenRows(name string) *model.RowSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Written[key(name)]
}

// Writes returns how many times the writer was invoked for name.
func (f *FakeDatabases) Writes(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.WriteCalls[key(name)]
}

func (f *FakeDatabases) acquire() {
	f.mu.Lock()
	f.Open++
	if f.Open > f.MaxOpen {
		f.MaxOpen = f.Open
	}
	f.mu.Unlock()
}

func (f *FakeDatabases) release() error {
	f.mu.Lock()
	f.Open--
	f.mu.Unlock()
	return nil
}

// PinSource implements pipeline.Connector.
func (f *FakeDatabases) PinSource(ctx context.Context) (pipeline.SourceSession, error) {
	f.acquire()
	return fakeSource{f}, nil
}

// PinTarget implements pipeline.Connector.
func (f *FakeDatabases) PinTarget(ctx context.Context) (pipeline.TargetSession, error) {
	f.acquire()
	return fakeTarget{f}, nil
}

type fakeSource struct{ f *FakeDatabases }

func (s fakeSource) FetchAll(ctx context.Context, table string) (*model.RowSet, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.fetchErr[key(table)]; err != nil {
		return nil, err
	}
	rs, ok := s.f.snapshots[key(table)]
	if !ok {
		return nil, fmt.Errorf("no source table %s", table)
	}
	return rs.Clone(), nil
}

func (s fakeSource) FetchChanges(ctx context.Context, table string, marker model.ChangeMarker) (*model.RowSet, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.fetchErr[key(table)]; err != nil {
		return nil, err
	}
	if !marker.HasBaseline() {
		return nil, fmt.Errorf("no baseline for %s", table)
	}
	if rs, ok := s.f.changes[key(table)]; ok {
		return rs.Clone(), nil
	}
	snap := s.f.snapshots[key(table)]
	return &model.RowSet{Entity: table, Columns: append([]string(nil), snap.Columns...)}, nil
}

func (s fakeSource) Close() error { return s.f.release() }

type fakeTarget struct{ f *FakeDatabases }

func (t fakeTarget) TableExists(ctx context.Context, table string) (bool, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	_, ok := t.f.dest[key(table)]
	return ok, nil
}

func (t fakeTarget) Truncate(ctx context.Context, table string) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.f.Truncated = append(t.f.Truncated, table)
	delete(t.f.Written, key(table))
	return nil
}

func (t fakeTarget) Columns(ctx context.Context, table string) ([]string, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	return append([]string(nil), t.f.dest[key(table)]...), nil
}

func (t fakeTarget) Writer() (writer.BulkWriter, error) { return t, nil }

func (t fakeTarget) Write(ctx context.Context, table string, mapping model.ColumnMapping, rows *model.RowSet) error {
	if err := writer.ValidateMapping(rows, mapping); err != nil {
		return err
	}
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.f.WriteCalls[key(table)]++
	if err := t.f.writeErr[key(table)]; err != nil {
		return err
	}
	t.f.Written[key(table)] = rows.Clone()
	return nil
}

func (t fakeTarget) Close() error { return t.f.release() }

func key(name string) string { return strings.ToLower(name) }

// FakeTransformer upper-cases the configured string fields.
type FakeTransformer struct {
	Err   error
	Calls int
	mu    sync.Mutex
}

// Transform implements transform.Transformer.
func (t *FakeTransformer) Transform(ctx context.Context, rows *model.RowSet, keyID string, fields []string) (*model.RowSet, error) {
	t.mu.Lock()
	t.Calls++
	t.mu.Unlock()
	if t.Err != nil {
		return nil, t.Err
	}
	out := rows.Clone()
	for _, f := range fields {
		i := out.ColumnIndex(f)
		if i < 0 {
			continue
		}
		for r := range out.Rows {
			if s, ok := out.Rows[r].Values[i].(string); ok {
				out.Rows[r].Values[i] = strings.ToUpper(s)
			}
		}
	}
	return out, nil
}

var _ pipeline.Connector = (*FakeDatabases)(nil)
