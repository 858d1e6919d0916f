package landmark

import (
	"sync/atomic"

	"github.com/andresmejia3/facenote/internal/types"
)

// Store holds the most recent landmark snapshot.
// Replacement is a single pointer swap, so readers on any goroutine only
// ever observe a complete snapshot.
type Store struct {
	current atomic.Pointer[types.Snapshot]
}

// NewStore returns a store in the "no face" state.
func NewStore() *Store {
	s := &Store{}
	empty := types.NoFace(0)
	s.current.Store(&empty)
	return s
}

// Update replaces the current snapshot. The point slice is copied so the
// caller may reuse its buffer.
func (s *Store) Update(snap types.Snapshot) {
	next := types.Snapshot{Seq: snap.Seq, Face: snap.Face && len(snap.Points) > 0}
	if next.Face {
		next.Points = make([]types.Point, len(snap.Points))
		copy(next.Points, snap.Points)
	}
	s.current.Store(&next)
}

// Clear resets the store to "no face" for the given frame.
func (s *Store) Clear(seq uint64) {
	empty := types.NoFace(seq)
	s.current.Store(&empty)
}

// Current returns the latest snapshot. The returned Points must not be modified.
func (s *Store) Current() types.Snapshot {
	return *s.current.Load()
}
