package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnmappedColumn is returned when a projected column has no destination column.
var ErrUnmappedColumn = errors.New("source column has no destination column")

// OperationColumn is the synthetic column carrying the operation tag.
const OperationColumn = "CDC_Type"

// Operation is the change applied to a source row.
type Operation uint8

const (
	_ Operation = iota
	// OpNew is an inserted row, and every row of a full snapshot.
	OpNew
	// OpUpdate is an updated row.
	OpUpdate
	// OpDelete is a deleted row; only its key columns are populated.
	OpDelete
)

// Code returns the value written to the CDC_Type column.
func (o Operation) Code() string {
	switch o {
	case OpNew:
		return "N"
	case OpUpdate:
		return "U"
	case OpDelete:
		return "D"
	}
	return ""
}

func (o Operation) String() string {
	switch o {
	case OpNew:
		return "New"
	case OpUpdate:
		return "Update"
	case OpDelete:
		return "Delete"
	}
	return fmt.Sprintf("Operation(%d)", uint8(o))
}

// ParseOperation maps a change-tracking operation code to an Operation.
// A tracked insert ("I") collapses to New.
func ParseOperation(code string) (Operation, error) {
	switch code {
	case "I", "N":
		return OpNew, nil
	case "U":
		return OpUpdate, nil
	case "D":
		return OpDelete, nil
	}
	return 0, fmt.Errorf("unknown change operation %q", code)
}

// RowChangeRecord is a source row plus its operation tag.
// Values are ordered like the owning RowSet's Columns.
type RowChangeRecord struct {
	Values []any
	Op     Operation
}

// RowSet is the projected rows of one entity. Columns excludes OperationColumn;
// it is appended when the rows are written.
type RowSet struct {
	Entity  string
	Columns []string
	Rows    []RowChangeRecord
}

// Len returns the number of rows.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// ProjectedColumns returns Columns followed by OperationColumn.
func (rs *RowSet) ProjectedColumns() []string {
	out := make([]string, 0, len(rs.Columns)+1)
	out = append(out, rs.Columns...)
	return append(out, OperationColumn)
}

// ColumnIndex returns the position of column in Columns, or -1.
func (rs *RowSet) ColumnIndex(column string) int {
	for i, c := range rs.Columns {
		if strings.EqualFold(c, column) {
			return i
		}
	}
	return -1
}

// Projected returns row i's values followed by its operation code.
func (rs *RowSet) Projected(i int) []any {
	r := rs.Rows[i]
	out := make([]any, 0, len(r.Values)+1)
	out = append(out, r.Values...)
	return append(out, r.Op.Code())
}

// Clone returns a deep copy of the row set's slices.
func (rs *RowSet) Clone() *RowSet {
	out := &RowSet{
		Entity:  rs.Entity,
		Columns: append([]string(nil), rs.Columns...),
		Rows:    make([]RowChangeRecord, len(rs.Rows)),
	}
	for i, r := range rs.Rows {
		out.Rows[i] = RowChangeRecord{Values: append([]any(nil), r.Values...), Op: r.Op}
	}
	return out
}

// ColumnMapping maps projected source columns to destination columns.
type ColumnMapping struct {
	Source      []string
	Destination []string
}

// Len returns the number of mapped columns.
func (m ColumnMapping) Len() int { return len(m.Source) }

// Covers reports whether every column in cols is mapped, returning the first
// unmapped one otherwise.
func (m ColumnMapping) Covers(cols []string) (string, bool) {
	for _, c := range cols {
		found := false
		for _, s := range m.Source {
			if strings.EqualFold(s, c) {
				found = true
				break
			}
		}
		if !found {
			return c, false
		}
	}
	return "", true
}
