// Package zoneparser streams a CZDS master-file zone and extracts the set
// of unique lowercased SLD labels under a given TLD, falling back to
// external-sort deduplication when the set outgrows the memory budget.
package zoneparser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
)

// LabelSet is the deduplicated output of a zone parse. Small sets are kept
// as an in-memory hash set; sets that exceed the parser's memory budget are
// backed by a sorted temp file on disk instead.
type LabelSet struct {
	mem        map[string]struct{}
	sortedPath string
	count      int
}

// Len returns the number of unique labels in the set.
func (s *LabelSet) Len() int { return s.count }

// InMemory reports whether the set is backed by an in-memory hash set
// (true) or an external sorted file (false).
func (s *LabelSet) InMemory() bool { return s.mem != nil }

// Memory returns the backing map for an in-memory set. Callers must check
// InMemory first; it is nil for external sets.
func (s *LabelSet) Memory() map[string]struct{} { return s.mem }

// SortedReader returns a reader yielding every label, one per line, in
// ascending sorted order with no duplicates — used by the external-merge
// diff strategy. In-memory sets are sorted on the fly; external sets stream
// their backing file directly.
func (s *LabelSet) SortedReader() (io.ReadCloser, error) {
	if s.sortedPath != "" {
		f, err := os.Open(s.sortedPath)
		if err != nil {
			return nil, fmt.Errorf("opening sorted label file: %w", err)
		}
		return f, nil
	}

	labels := make([]string, 0, len(s.mem))
	for l := range s.mem {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var buf bytes.Buffer
	for _, l := range labels {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return io.NopCloser(&buf), nil
}

// Close releases any on-disk resources held by the set. Safe to call on
// in-memory sets (no-op).
func (s *LabelSet) Close() error {
	if s.sortedPath == "" {
		return nil
	}
	err := os.Remove(s.sortedPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing sorted label file: %w", err)
	}
	return nil
}

func newSortedLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 1<<20)
	return sc
}
