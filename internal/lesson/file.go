package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// documentVersion is written into every persisted lesson document.
const documentVersion = 1

// document is the persisted lesson structure.
type document struct {
	Lessons   []*Lesson `json:"lessons"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileOption configures a FileRepository.
type FileOption func(*FileRepository)

// WithFlushInterval enables buffered mode: mutations are kept in memory and
// written every interval, on Flush and on Close.
func WithFlushInterval(d time.Duration) FileOption {
	return func(r *FileRepository) {
		r.flushInterval = d
	}
}

// FileRepository stores lessons in a single JSON document.
//
// By default every mutation is written through before returning. A failed
// write rolls the in-memory change back and returns the error.
type FileRepository struct {
	mu     sync.Mutex
	path   string
	ix     *index
	logger *zap.Logger

	flushInterval time.Duration
	dirty         bool
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewFileRepository opens the document at path. A missing or corrupt
// document yields an empty repository; corruption is logged as a warning.
func NewFileRepository(path string, logger *zap.Logger, opts ...FileOption) (*FileRepository, error) {
	if path == "" {
		return nil, errors.New("lesson document path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating lesson directory: %w", err)
	}

	r := &FileRepository{
		path:   path,
		ix:     newIndex(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("lesson document not found, starting empty", zap.String("path", path))
		} else {
			logger.Warn("lesson document unreadable, starting empty",
				zap.String("path", path),
				zap.Error(err))
		}
		r.ix = newIndex()
	}

	if r.flushInterval > 0 {
		r.stop = make(chan struct{})
		r.done = make(chan struct{})
		go r.flushLoop()
	}

	return r, nil
}

func (r *FileRepository) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	ix := newIndex()
	for _, l := range doc.Lessons {
		if l == nil {
			continue
		}
		if err := ix.insert(l); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptDocument, l.ID, err)
		}
	}
	r.ix = ix
	return nil
}

// save writes the document atomically. Caller holds r.mu.
func (r *FileRepository) save() error {
	doc := document{
		Lessons:   r.ix.list(),
		Version:   documentVersion,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lesson document: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing lesson document: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming lesson document: %w", err)
	}
	return nil
}

// persist writes through or marks the document dirty in buffered mode.
func (r *FileRepository) persist() error {
	if r.flushInterval > 0 {
		r.dirty = true
		return nil
	}
	return r.save()
}

func (r *FileRepository) Insert(_ context.Context, l *Lesson) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ix.insert(l); err != nil {
		return err
	}
	if err := r.persist(); err != nil {
		r.ix.remove(l.ID)
		return err
	}
	return nil
}

func (r *FileRepository) Update(_ context.Context, l *Lesson) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.ix.replace(l)
	if err != nil {
		return err
	}
	if err := r.persist(); err != nil {
		_, _ = r.ix.replace(prev)
		return err
	}
	return nil
}

func (r *FileRepository) Get(_ context.Context, id string) (*Lesson, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ix.get(id)
}

func (r *FileRepository) List(_ context.Context) ([]*Lesson, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ix.list(), nil
}

// Flush writes pending buffered changes. It is a no-op when nothing changed.
func (r *FileRepository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}
	if err := r.save(); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

func (r *FileRepository) flushLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.logger.Error("periodic lesson flush failed",
					zap.String("path", r.path),
					zap.Error(err))
			}
		}
	}
}

// Close stops the flush loop and writes any pending changes.
func (r *FileRepository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.stop != nil {
			close(r.stop)
			<-r.done
		}
		err = r.Flush()
	})
	return err
}

var _ Repository = (*FileRepository)(nil)
