// Package watcher reports debounced file changes under a set of source
// roots so the watch command can re-sync only the sources that changed.
//
// fsnotify is used when it can be initialised; otherwise the roots are
// polled. Either way, events pass through a Debouncer and arrive as
// batches sorted by path:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go func() { _ = w.Start(ctx, roots...) }()
//	for batch := range w.Events() {
//	    // re-sync the sources owning batch paths
//	}
package watcher
