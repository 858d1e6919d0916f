// Package ledger keeps the session's annotations in insertion order.
package ledger

import (
	"strings"
	"sync"

	"github.com/andresmejia3/facenote/internal/types"
)

// Ledger is an append-only list of annotations.
type Ledger struct {
	mu      sync.RWMutex
	entries []types.Annotation
	version uint64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Add appends an annotation. Empty or whitespace-only notes and negative
// indices are ignored; the return value reports whether anything was added.
func (l *Ledger) Add(landmarkIndex int, note string) bool {
	if landmarkIndex < 0 || strings.TrimSpace(note) == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, types.Annotation{LandmarkIndex: landmarkIndex, Note: note})
	l.version++
	return true
}

// All returns a copy of the annotations in the order they were added.
func (l *Ledger) All() []types.Annotation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Annotation, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of annotations.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Version increases by one on every successful Add.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}
