package pipeline

import (
	"sync"

	"github.com/google/uuid"

	"ragcore/internal/registry"
)

// ProcessingStatus is the polling view of one document's progress.
type ProcessingStatus struct {
	DocumentID uuid.UUID
	Status     registry.Status
	Progress   int // 0-100
	Message    string
	ChunkCount int
}

// Tracker owns the per-document progress map. It is mutex-guarded shared
// state: ingestion goroutines write, status polls read. Entries live until
// the document is deleted.
type Tracker struct {
	mu sync.RWMutex
	m  map[uuid.UUID]ProcessingStatus
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{m: make(map[uuid.UUID]ProcessingStatus)}
}

// Set stores the full snapshot for a document.
func (t *Tracker) Set(st ProcessingStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[st.DocumentID] = st
}

// Get returns the snapshot for a document; ok is false for unknown ids, a
// distinct condition from a zero-value status.
func (t *Tracker) Get(id uuid.UUID) (ProcessingStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.m[id]
	return st, ok
}

// Remove drops a document's entry.
func (t *Tracker) Remove(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, id)
}
