package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/embedder"
	"github.com/dshills/codecontext/internal/engine"
	"github.com/dshills/codecontext/pkg/types"
)

// State is the coordinator's lifecycle state
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Factory builds the engine for one session
type Factory func(ctx context.Context, cfg types.ContextConfig) (*engine.Engine, error)

// NewEngineFactory returns a Factory that creates an embedder from embCfg and
// an engine over it. Unless embCfg sets a cache size, the embedding cache
// holds cfg.MaxEmbeddings vectors.
func NewEngineFactory(embCfg embedder.Config, logger *zap.Logger) Factory {
	return func(ctx context.Context, cfg types.ContextConfig) (*engine.Engine, error) {
		ec := embCfg
		if ec.CacheSize == 0 {
			ec.CacheSize = cfg.WithDefaults().MaxEmbeddings
		}
		emb, err := embedder.New(ctx, ec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrConfiguration, err)
		}

		eng, err := engine.New(ctx, cfg, emb, logger)
		if err != nil {
			_ = emb.Close()
			return nil, err
		}
		return eng, nil
	}
}

// Handle is a shared reference to the live engine. Callers must Release it.
type Handle struct {
	eng  *engine.Engine
	refs atomic.Int64
}

func newHandle(eng *engine.Engine) *Handle {
	h := &Handle{eng: eng}
	h.refs.Store(1)
	return h
}

// Engine returns the engine behind the handle
func (h *Handle) Engine() *engine.Engine {
	return h.eng
}

func (h *Handle) tryAcquire() bool {
	for {
		n := h.refs.Load()
		if n == 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference; the last one closes the engine
func (h *Handle) Release() error {
	if h.refs.Add(-1) == 0 {
		return h.eng.Close()
	}
	return nil
}

// Coordinator owns the single live engine of a process. Initialize and Reset
// are serialized; Acquire never takes the lock.
type Coordinator struct {
	factory Factory
	logger  *zap.Logger

	mu     sync.Mutex
	state  atomic.Int32
	handle atomic.Pointer[Handle]
}

// New creates an uninitialized Coordinator
func New(factory Factory, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{factory: factory, logger: logger}
}

// State returns the current state
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Initialize builds the engine from cfg. Calling it again while ready is a
// no-op, even with a different cfg.
func (c *Coordinator) Initialize(ctx context.Context, cfg types.ContextConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateReady {
		c.logger.Debug("context manager already initialized")
		return nil
	}
	if c.factory == nil {
		return fmt.Errorf("%w: no engine factory", types.ErrConfiguration)
	}

	c.state.Store(int32(StateInitializing))
	eng, err := c.factory(ctx, cfg)
	if err != nil {
		c.state.Store(int32(StateUninitialized))
		c.logger.Warn("context manager initialization failed", zap.Error(err))
		return err
	}

	c.handle.Store(newHandle(eng))
	c.state.Store(int32(StateReady))
	c.logger.Info("context manager initialized", zap.String("db_path", cfg.DBPath))
	return nil
}

// Acquire returns a handle to the live engine or ErrNotInitialized
func (c *Coordinator) Acquire() (*Handle, error) {
	h := c.handle.Load()
	if h == nil || !h.tryAcquire() {
		return nil, types.ErrNotInitialized
	}
	return h, nil
}

// With runs fn against the live engine, holding a reference for its duration
func (c *Coordinator) With(fn func(*engine.Engine) error) error {
	h, err := c.Acquire()
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()
	return fn(h.Engine())
}

// Reset drops the live engine and returns to uninitialized. The engine is
// closed once the last outstanding handle is released. Safe when already
// uninitialized.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.handle.Swap(nil)
	c.state.Store(int32(StateUninitialized))
	if h == nil {
		return nil
	}

	c.logger.Info("context manager reset")
	return h.Release()
}

// Close is Reset
func (c *Coordinator) Close() error {
	return c.Reset()
}
