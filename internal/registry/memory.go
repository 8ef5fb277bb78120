package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is the in-process registry. A single mutex guards the record map;
// transitions are applied atomically so concurrent readers only ever see a
// record before or after a transition, never mid-change.
type Memory struct {
	mu    sync.RWMutex
	docs  map[uuid.UUID]Record
	order []uuid.UUID
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{docs: make(map[uuid.UUID]Record)}
}

func (m *Memory) Create(_ context.Context, rec Record) error {
	if rec.ID == uuid.Nil {
		return fmt.Errorf("record id required")
	}
	if rec.Status == "" {
		rec.Status = StatusUploading
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	m.docs[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.docs[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// List returns records in upload order.
func (m *Memory) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		if rec, ok := m.docs[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id uuid.UUID, tr Transition) (Record, error) {
	if err := tr.Validate(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.docs[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !Allowed(rec.Status, tr.To) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, tr.To)
	}

	rec.Status = tr.To
	switch tr.To {
	case StatusCompleted:
		rec.ChunkCount = tr.ChunkCount
		rec.ProcessedAt = time.Now()
	case StatusFailed:
		rec.ErrorMessage = tr.ErrorMessage
	}
	m.docs[id] = rec
	return rec, nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.docs, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
