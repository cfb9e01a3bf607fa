// Package watcher re-indexes files that change on disk after they were added
// to the context.
//
// Each watched file is tracked through its parent directory with fsnotify.
// Events are debounced per path (250ms by default); when the timer fires the
// file is re-read and its xxhash fingerprint compared with the last indexed
// version. Changed files go to Handler.Reindex, removed files to
// Handler.Forget. Failures are logged and never surfaced to the caller.
//
//	w, err := watcher.New(handler, logger)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	_ = w.Watch("internal/app/main.go", content)
//
// Paths that have no file on disk (content added directly by a client) are
// ignored by Watch.
package watcher
