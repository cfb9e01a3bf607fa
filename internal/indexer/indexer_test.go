package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/engine"
	"github.com/dshills/codecontext/pkg/types"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, which starts a stats worker at init
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// mockIngester records added files in memory
type mockIngester struct {
	mu      sync.Mutex
	files   map[string]string
	failOn  string
	block   chan struct{}
	started chan struct{}
	calls   atomic.Int32
}

func newMockIngester() *mockIngester {
	return &mockIngester{files: make(map[string]string)}
}

func (m *mockIngester) AddFile(ctx context.Context, path, content string) (*types.FileMetadata, error) {
	m.calls.Add(1)
	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.failOn != "" && strings.HasSuffix(path, m.failOn) {
		return nil, &types.FileError{Path: path, Err: types.ErrEmbeddingFailure}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
	return &types.FileMetadata{Path: path, ChunkCount: 1, SymbolCount: strings.Count(content, "func ")}, nil
}

func (m *mockIngester) HasFile(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *mockIngester) paths(root string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		rel, _ := filepath.Rel(root, p)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

// createTestFile creates a file under dir, making parent directories
func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, name)
	err := os.MkdirAll(filepath.Dir(filePath), 0755)
	require.NoError(t, err)

	err = os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(t, err)

	return filePath
}

// TestIndexDirectory_Success tests discovery and ingestion of a small tree
func TestIndexDirectory_Success(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "main.go", "package main\n\nfunc main() {}\n")
	createTestFile(t, tmpDir, "pkg/util.go", "package pkg\n\nfunc A() {}\nfunc B() {}\n")
	createTestFile(t, tmpDir, "lib/mod.rs", "fn helper() {}\n")

	ing := newMockIngester()
	stats, err := New(ing, zap.NewNop()).IndexDirectory(context.Background(), tmpDir, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.FilesIndexed)
	assert.Equal(t, 0, stats.FilesFailed)
	assert.Equal(t, 3, stats.ChunksCreated)
	assert.Equal(t, 3, stats.SymbolsExtracted)
	assert.Empty(t, stats.ErrorMessages)
	assert.Equal(t, []string{"lib/mod.rs", "main.go", "pkg/util.go"}, ing.paths(tmpDir))
}

// TestIndexDirectory_EmptyDirectory tests an empty root
func TestIndexDirectory_EmptyDirectory(t *testing.T) {
	stats, err := New(newMockIngester(), nil).IndexDirectory(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesIndexed)
	assert.Zero(t, stats.FilesSkipped)
}

// TestIndexDirectory_Filters tests default excludes, hidden paths and patterns
func TestIndexDirectory_Filters(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "main.go", "package main\n")
	createTestFile(t, tmpDir, "README.md", "# readme\n")
	createTestFile(t, tmpDir, "vendor/dep/dep.go", "package dep\n")
	createTestFile(t, tmpDir, "web/node_modules/x/index.js", "module.exports = 1\n")
	createTestFile(t, tmpDir, "target/debug/out.rs", "fn main() {}\n")
	createTestFile(t, tmpDir, ".git/config", "[core]\n")
	createTestFile(t, tmpDir, ".hidden/secret.go", "package secret\n")
	createTestFile(t, tmpDir, ".env", "KEY=1\n")

	t.Run("defaults", func(t *testing.T) {
		ing := newMockIngester()
		_, err := New(ing, nil).IndexDirectory(context.Background(), tmpDir, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"README.md", "main.go"}, ing.paths(tmpDir))
	})

	t.Run("include pattern", func(t *testing.T) {
		ing := newMockIngester()
		_, err := New(ing, nil).IndexDirectory(context.Background(), tmpDir, &Config{Include: []string{"**/*.go"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"main.go"}, ing.paths(tmpDir))
	})

	t.Run("no excludes", func(t *testing.T) {
		ing := newMockIngester()
		_, err := New(ing, nil).IndexDirectory(context.Background(), tmpDir, &Config{
			Include: []string{"**/*.go"},
			Exclude: []string{},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"main.go", "vendor/dep/dep.go"}, ing.paths(tmpDir))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := New(newMockIngester(), nil).IndexDirectory(context.Background(), tmpDir, &Config{Include: []string{"[abc"}})
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})
}

// TestIndexDirectory_SkipsNonText tests binary, non-UTF-8 and oversize files
func TestIndexDirectory_SkipsNonText(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "ok.txt", "hello\n")
	createTestFile(t, tmpDir, "image.png", "\x89PNG\x00\x00data")
	createTestFile(t, tmpDir, "latin1.txt", "caf\xe9\n")
	createTestFile(t, tmpDir, "big.txt", strings.Repeat("x", 2048))

	ing := newMockIngester()
	stats, err := New(ing, nil).IndexDirectory(context.Background(), tmpDir, &Config{MaxFileSize: 1024})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 3, stats.FilesSkipped)
	assert.Equal(t, []string{"ok.txt"}, ing.paths(tmpDir))
}

// TestIndexDirectory_Failures tests that per-file errors do not stop the run
func TestIndexDirectory_Failures(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "good.go", "package good\n")
	createTestFile(t, tmpDir, "bad.go", "package bad\n")

	ing := newMockIngester()
	ing.failOn = "bad.go"
	stats, err := New(ing, nil).IndexDirectory(context.Background(), tmpDir, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "bad.go")
}

// TestIndexDirectory_SkipExisting tests incremental runs
func TestIndexDirectory_SkipExisting(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "a.go", "package a\n")
	createTestFile(t, tmpDir, "b.go", "package b\n")

	ing := newMockIngester()
	idx := New(ing, nil)

	_, err := idx.IndexDirectory(context.Background(), tmpDir, nil)
	require.NoError(t, err)

	createTestFile(t, tmpDir, "c.go", "package c\n")
	stats, err := idx.IndexDirectory(context.Background(), tmpDir, &Config{SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 2, stats.FilesSkipped)
}

// TestIndexDirectory_InvalidRoot tests missing and non-directory roots
func TestIndexDirectory_InvalidRoot(t *testing.T) {
	idx := New(newMockIngester(), nil)

	_, err := idx.IndexDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	file := createTestFile(t, t.TempDir(), "file.go", "package x\n")
	_, err = idx.IndexDirectory(context.Background(), file, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

// TestIndexDirectory_ConcurrentCalls tests that a second run fails fast
func TestIndexDirectory_ConcurrentCalls(t *testing.T) {
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "a.go", "package a\n")

	ing := newMockIngester()
	ing.block = make(chan struct{})
	ing.started = make(chan struct{}, 1)
	idx := New(ing, nil)

	done := make(chan error, 1)
	go func() {
		_, err := idx.IndexDirectory(context.Background(), tmpDir, nil)
		done <- err
	}()

	<-ing.started
	assert.True(t, idx.Running())
	_, err := idx.IndexDirectory(context.Background(), tmpDir, nil)
	assert.ErrorIs(t, err, ErrIndexingInProgress)

	close(ing.block)
	require.NoError(t, <-done)
	assert.False(t, idx.Running())
}

// TestIndexDirectory_ContextCancellation tests that cancellation is returned
func TestIndexDirectory_ContextCancellation(t *testing.T) {
	tmpDir := t.TempDir()
	for i := 0; i < 10; i++ {
		createTestFile(t, tmpDir, fmt.Sprintf("f%d.go", i), "package f\n")
	}

	ing := newMockIngester()
	ing.block = make(chan struct{})
	ing.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := New(ing, nil).IndexDirectory(ctx, tmpDir, &Config{Workers: 2})
		done <- err
	}()

	<-ing.started
	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.LessOrEqual(t, ing.calls.Load(), int32(10))
}

// TestIndexDirectory_WorkerLimit tests that at most Workers files are in flight
func TestIndexDirectory_WorkerLimit(t *testing.T) {
	tmpDir := t.TempDir()
	for i := 0; i < 20; i++ {
		createTestFile(t, tmpDir, fmt.Sprintf("f%02d.go", i), "package f\n")
	}

	var inFlight, peak atomic.Int32
	ing := &limitIngester{inFlight: &inFlight, peak: &peak}
	stats, err := New(ing, nil).IndexDirectory(context.Background(), tmpDir, &Config{Workers: 3})
	require.NoError(t, err)

	assert.Equal(t, 20, stats.FilesIndexed)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

type limitIngester struct {
	inFlight *atomic.Int32
	peak     *atomic.Int32
}

func (l *limitIngester) AddFile(_ context.Context, path, _ string) (*types.FileMetadata, error) {
	n := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &types.FileMetadata{Path: path}, nil
}

func (l *limitIngester) HasFile(context.Context, string) (bool, error) {
	return false, nil
}

// TestIndexDirectory_WithEngine tests the indexer against a real context engine
func TestIndexDirectory_WithEngine(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	createTestFile(t, tmpDir, "math/add.go", "package math\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n")
	createTestFile(t, tmpDir, "math/mul.go", "package math\n\nfunc Multiply(x, y int) int {\n\treturn x * y\n}\n")
	createTestFile(t, tmpDir, "vendor/skip.go", "package skip\n")

	emb, err := embedder.NewLocalProvider(nil, embedder.WithDimension(64))
	require.NoError(t, err)
	eng, err := engine.New(ctx, types.ContextConfig{
		DBPath:   filepath.Join(t.TempDir(), "db"),
		MaxFiles: 10,
	}, emb, nil)
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	stats, err := New(eng, nil).IndexDirectory(ctx, tmpDir, &Config{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 2, stats.ChunksCreated)
	assert.Equal(t, 2, stats.SymbolsExtracted)

	chunks, err := eng.SearchSimilar(ctx, "func Multiply(x, y int) int", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, filepath.Join(tmpDir, "math/mul.go"), chunks[0].FilePath)

	has, err := eng.HasFile(ctx, filepath.Join(tmpDir, "vendor/skip.go"))
	require.NoError(t, err)
	assert.False(t, has)
}

// TestIndexLock_ConcurrentAcquisition tests IndexLock behavior under concurrent access
func TestIndexLock_ConcurrentAcquisition(t *testing.T) {
	t.Run("TryAcquire fails when lock is held", func(t *testing.T) {
		var lock IndexLock

		require.True(t, lock.TryAcquire(), "First TryAcquire should succeed")
		assert.True(t, lock.Held())
		assert.False(t, lock.TryAcquire(), "Second TryAcquire should fail while lock is held")

		lock.Release()
		assert.False(t, lock.Held())
		assert.True(t, lock.TryAcquire(), "Lock should be available after Release")
		lock.Release()
	})

	t.Run("Concurrent goroutines attempting acquisition", func(t *testing.T) {
		var lock IndexLock
		const numGoroutines = 100

		var successCount atomic.Int32
		var wg sync.WaitGroup
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func() {
				defer wg.Done()
				if lock.TryAcquire() {
					successCount.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successCount.Load(), "Exactly one goroutine should acquire the lock")
		lock.Release()
	})
}
