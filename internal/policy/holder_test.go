package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHolder_StoreAndSubscribe(t *testing.T) {
	h, err := NewHolder(Default(), zap.NewNop())
	require.NoError(t, err)

	var got []float64
	h.Subscribe(func(p Policy) { got = append(got, p.Similarity.Threshold) })

	require.NoError(t, h.Store(Default().WithSimilarityThreshold(0.8)))
	assert.Equal(t, 0.8, h.Current().Similarity.Threshold)
	assert.Equal(t, []float64{0.8}, got)

	err = h.Store(Default().WithSimilarityThreshold(-1))
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Equal(t, 0.8, h.Current().Similarity.Threshold)
	assert.Len(t, got, 1)
}

func TestHolder_CurrentIsACopy(t *testing.T) {
	h, err := NewHolder(Default(), nil)
	require.NoError(t, err)

	p := h.Current()
	p.Routing[SeverityCritical][0] = "nobody"
	assert.Equal(t, "engineering", h.Current().Routing[SeverityCritical][0])
}

func TestNewHolder_RejectsInvalid(t *testing.T) {
	_, err := NewHolder(Policy{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestHolder_ConcurrentReaders(t *testing.T) {
	h, err := NewHolder(Default(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					_ = h.Store(Default().WithSimilarityThreshold(0.5 + float64(j%10)/100))
					continue
				}
				th := h.Current().Similarity.Threshold
				assert.GreaterOrEqual(t, th, 0.5)
				assert.LessOrEqual(t, th, 0.7)
			}
		}(i)
	}
	wg.Wait()
}

func TestHolder_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, Save(path, Default()))

	core, logs := observer.New(zapcore.InfoLevel)
	h, err := NewHolder(Default(), zap.New(core))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx, path) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, Save(path, Default().WithSimilarityThreshold(0.85)))
	assert.Eventually(t, func() bool {
		return h.Current().Similarity.Threshold == 0.85
	}, 5*time.Second, 20*time.Millisecond)

	// An invalid file keeps the previous snapshot. Written via rename so the
	// watcher never observes a truncated file.
	tmp := filepath.Join(dir, "staged.yaml")
	require.NoError(t, os.WriteFile(tmp, []byte("similarity:\n  threshold: 9\n"), 0600))
	require.NoError(t, os.Rename(tmp, path))
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("policy reload rejected, keeping previous policy").Len() > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0.85, h.Current().Similarity.Threshold)
}

func TestHolder_WatchMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not", "yet", "policy.yaml")

	h, err := NewHolder(Default(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx, path) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	assert.Eventually(t, func() bool {
		info, err := os.Stat(filepath.Dir(path))
		return err == nil && info.IsDir()
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, Save(path, Default().WithSimilarityThreshold(0.8)))
	assert.Eventually(t, func() bool {
		return h.Current().Similarity.Threshold == 0.8
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHolder_WatchUnusableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	h, err := NewHolder(Default(), zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, h.Watch(context.Background(), filepath.Join(blocker, "policy.yaml")))
}
