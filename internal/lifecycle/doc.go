// Package lifecycle guards construction and teardown of the process-wide
// context engine.
//
// A Coordinator moves through uninitialized, initializing and ready.
// Initialize and Reset take one mutex, so concurrent first callers build
// exactly one engine and a second Initialize is a no-op. Queries never take
// that mutex: Acquire loads the current handle atomically and bumps its
// reference count.
//
//	coord := lifecycle.New(lifecycle.NewEngineFactory(embCfg, logger), logger)
//	if err := coord.Initialize(ctx, cfg); err != nil {
//	    return err
//	}
//
//	err := coord.With(func(e *engine.Engine) error {
//	    _, err := e.AddFile(ctx, "a.rs", "fn foo(){}")
//	    return err
//	})
//
// After Reset, Acquire and With fail with types.ErrNotInitialized. The old
// engine is closed when its last handle is released.
package lifecycle
