package lesson

import (
	"context"
	"sync"
)

// Repository persists lessons. Implementations must return copies so callers
// never alias stored state, and List must preserve insertion order.
type Repository interface {
	// Insert adds a new lesson. Returns ErrDuplicateID if the id exists.
	Insert(ctx context.Context, l *Lesson) error

	// Update replaces an existing lesson. Returns ErrNotFound if absent.
	Update(ctx context.Context, l *Lesson) error

	// Get returns a copy of the lesson. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Lesson, error)

	// List returns copies of all lessons in insertion order.
	List(ctx context.Context) ([]*Lesson, error)

	// Close releases resources and flushes pending writes.
	Close() error
}

// index is an insertion-ordered lesson set shared by the in-process repositories.
type index struct {
	order []string
	byID  map[string]*Lesson
}

func newIndex() *index {
	return &index{byID: make(map[string]*Lesson)}
}

func (ix *index) insert(l *Lesson) error {
	if _, ok := ix.byID[l.ID]; ok {
		return ErrDuplicateID
	}
	ix.byID[l.ID] = l.Clone()
	ix.order = append(ix.order, l.ID)
	return nil
}

// replace swaps the stored lesson and returns the previous value.
func (ix *index) replace(l *Lesson) (*Lesson, error) {
	prev, ok := ix.byID[l.ID]
	if !ok {
		return nil, ErrNotFound
	}
	ix.byID[l.ID] = l.Clone()
	return prev, nil
}

// remove drops the most recently inserted lesson with id. Used for rollback.
func (ix *index) remove(id string) {
	delete(ix.byID, id)
	for i := len(ix.order) - 1; i >= 0; i-- {
		if ix.order[i] == id {
			ix.order = append(ix.order[:i], ix.order[i+1:]...)
			return
		}
	}
}

func (ix *index) get(id string) (*Lesson, error) {
	l, ok := ix.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (ix *index) list() []*Lesson {
	out := make([]*Lesson, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.byID[id].Clone())
	}
	return out
}

// MemoryRepository keeps lessons in process memory only.
type MemoryRepository struct {
	mu sync.RWMutex
	ix *index
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ix: newIndex()}
}

func (r *MemoryRepository) Insert(_ context.Context, l *Lesson) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ix.insert(l)
}

func (r *MemoryRepository) Update(_ context.Context, l *Lesson) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.ix.replace(l)
	return err
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.get(id)
}

func (r *MemoryRepository) List(_ context.Context) ([]*Lesson, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.list(), nil
}

// Close is a no-op.
func (r *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
