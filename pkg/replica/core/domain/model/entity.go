package model

import (
	"fmt"
	"sort"
	"strings"
)

// Classification is how an entity is replicated.
type Classification uint8

const (
	// Unclassified entities are truncated in delta mode and otherwise ignored.
	Unclassified Classification = iota
	// FullLoadOnly entities are copied in historic mode.
	FullLoadOnly
	// Reference entities are copied in full on every delta tick.
	Reference
	// Transactional entities are copied incrementally via change tracking.
	Transactional
)

func (c Classification) String() string {
	switch c {
	case FullLoadOnly:
		return "FullLoadOnly"
	case Reference:
		return "Reference"
	case Transactional:
		return "Transactional"
	}
	return "Unclassified"
}

// EntitySpec is a table name and one of its classifications.
type EntitySpec struct {
	Name           string
	Classification Classification
}

// TableSet is a case-insensitive set of table names.
type TableSet map[string]string

// NewTableSet builds a set from names, ignoring blanks.
func NewTableSet(names ...string) TableSet {
	s := make(TableSet, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		s[strings.ToLower(n)] = n
	}
	return s
}

// ParseTableList builds a set from a comma-separated list.
func ParseTableList(list string) TableSet {
	return NewTableSet(strings.Split(list, ",")...)
}

// Contains reports whether name is in the set.
func (s TableSet) Contains(name string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names returns the original spellings, sorted.
func (s TableSet) Names() []string {
	out := make([]string, 0, len(s))
	for _, n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Classifications holds the three table lists. A table may appear in
// FullLoadOnly and in one of Reference or Transactional, never in both of the latter.
type Classifications struct {
	FullLoad      TableSet
	Reference     TableSet
	Transactional TableSet
}

// Validate rejects entities listed as both Reference and Transactional.
func (c Classifications) Validate() error {
	var overlap []string
	for _, n := range c.Reference.Names() {
		if c.Transactional.Contains(n) {
			overlap = append(overlap, n)
		}
	}
	if len(overlap) > 0 {
		return fmt.Errorf("tables classified as both reference and transactional: %s", strings.Join(overlap, ", "))
	}
	return nil
}

// IsFullLoad reports whether name is copied in historic mode.
func (c Classifications) IsFullLoad(name string) bool { return c.FullLoad.Contains(name) }

// IsReference reports whether name is copied in full on delta ticks.
func (c Classifications) IsReference(name string) bool { return c.Reference.Contains(name) }

// IsTransactional reports whether name is copied incrementally.
func (c Classifications) IsTransactional(name string) bool { return c.Transactional.Contains(name) }

// DeltaClass returns the classification used in delta mode.
func (c Classifications) DeltaClass(name string) Classification {
	switch {
	case c.IsTransactional(name):
		return Transactional
	case c.IsReference(name):
		return Reference
	}
	return Unclassified
}
