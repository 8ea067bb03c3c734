package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Holder publishes the current policy snapshot to concurrent readers.
type Holder struct {
	current atomic.Pointer[Policy]
	logger  *zap.Logger

	mu          sync.Mutex
	subscribers []func(Policy)
}

// NewHolder returns a Holder serving p. p must be valid.
func NewHolder(p Policy, logger *zap.Logger) (*Holder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Holder{logger: logger}
	snapshot := p.Clone()
	h.current.Store(&snapshot)
	return h, nil
}

// Current returns a copy of the active policy.
func (h *Holder) Current() Policy {
	return h.current.Load().Clone()
}

// Store validates p and makes it the active policy, then notifies
// subscribers in registration order.
func (h *Holder) Store(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	snapshot := p.Clone()
	h.current.Store(&snapshot)

	h.mu.Lock()
	subs := make([]func(Policy), len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot.Clone())
	}
	return nil
}

// Subscribe registers fn to receive every newly stored policy.
func (h *Holder) Subscribe(fn func(Policy)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

// Watch reloads the policy whenever path is written or replaced, until ctx
// is done. An unreadable or invalid file is logged and the previous policy
// stays active. The parent directory is watched so atomic renames are seen;
// it is created when missing so a policy file can be added later.
func (h *Holder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating policy directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching policy directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.reload(target)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}

func (h *Holder) reload(path string) {
	p, err := Load(path)
	if err != nil {
		h.logger.Warn("policy reload rejected, keeping previous policy",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	if err := h.Store(p); err != nil {
		h.logger.Warn("policy reload rejected, keeping previous policy",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	h.logger.Info("policy reloaded",
		zap.String("path", path),
		zap.Float64("similarity_threshold", p.Similarity.Threshold))
}
