// Package clearance implements the total order over classification labels
// used for local subject-versus-document comparisons. National and NATO
// label sets map onto one ordinal scale; the mapping is configuration, not
// logic. Ordinal comparison is a defense-in-depth gate on mutation paths and
// is never the sole gate for read access: releasability markers and COI tags
// cannot be expressed by ordinal comparison alone.
package clearance

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnrecognizedLevel indicates a label absent from the hierarchy table.
// Unrecognized labels always fail the comparison; they are never treated
// as the lowest level.
var ErrUnrecognizedLevel = errors.New("unrecognized clearance level")

// UnrecognizedLevelError carries the offending label.
type UnrecognizedLevelError struct {
	Level string
}

// Error implements the error interface.
func (e *UnrecognizedLevelError) Error() string {
	return fmt.Sprintf("unrecognized clearance level %q", e.Level)
}

// Unwrap returns the sentinel error.
func (e *UnrecognizedLevelError) Unwrap() error {
	return ErrUnrecognizedLevel
}

// DefaultLevels is the default label-to-ordinal table covering the national
// and NATO label sets on a single scale.
func DefaultLevels() map[string]int {
	return map[string]int{
		"UNCLASSIFIED":      0,
		"NATO UNCLASSIFIED": 0,
		"RESTRICTED":        1,
		"NATO RESTRICTED":   1,
		"CONFIDENTIAL":      2,
		"NATO CONFIDENTIAL": 2,
		"SECRET":            3,
		"NATO SECRET":       3,
		"TOP SECRET":        4,
		"COSMIC TOP SECRET": 4,
	}
}

// Hierarchy is a total order over clearance labels. It is safe for
// concurrent use; Replace swaps the table atomically on config reload.
type Hierarchy struct {
	mu     sync.RWMutex
	levels map[string]int
}

// New creates a hierarchy from the given table. A nil or empty table falls
// back to DefaultLevels.
func New(levels map[string]int) *Hierarchy {
	if len(levels) == 0 {
		levels = DefaultLevels()
	}
	copied := make(map[string]int, len(levels))
	for k, v := range levels {
		copied[k] = v
	}
	return &Hierarchy{levels: copied}
}

// Ordinal returns the ordinal for a label.
func (h *Hierarchy) Ordinal(level string) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ord, ok := h.levels[level]
	if !ok {
		return 0, &UnrecognizedLevelError{Level: level}
	}
	return ord, nil
}

// Recognized reports whether the label is present in the table.
func (h *Hierarchy) Recognized(level string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.levels[level]
	return ok
}

// Meets reports whether the subject level dominates the required level.
// Either label missing from the table is an error, never a permissive
// default.
func (h *Hierarchy) Meets(subjectLevel, requiredLevel string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subject, ok := h.levels[subjectLevel]
	if !ok {
		return false, &UnrecognizedLevelError{Level: subjectLevel}
	}
	required, ok := h.levels[requiredLevel]
	if !ok {
		return false, &UnrecognizedLevelError{Level: requiredLevel}
	}
	return subject >= required, nil
}

// Replace atomically swaps the label table. Used on configuration reload.
func (h *Hierarchy) Replace(levels map[string]int) {
	if len(levels) == 0 {
		return
	}
	copied := make(map[string]int, len(levels))
	for k, v := range levels {
		copied[k] = v
	}

	h.mu.Lock()
	h.levels = copied
	h.mu.Unlock()
}

// Labels returns the recognized labels in ascending ordinal order.
func (h *Hierarchy) Labels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	labels := make([]string, 0, len(h.levels))
	for label := range h.levels {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if h.levels[labels[i]] != h.levels[labels[j]] {
			return h.levels[labels[i]] < h.levels[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return labels
}
