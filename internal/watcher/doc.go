// Package watcher reports debounced changes to document files in a
// directory tree.
//
// fsnotify events are filtered by extension, hidden paths are skipped and
// bursts of events for one file collapse into a single change per debounce
// window:
//
//	w, err := watcher.New(watcher.Options{Extensions: []string{".txt", ".md"}})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, dir) }()
//	for batch := range w.Events() {
//	    // re-add batch entries with OpCreate/OpModify, drop OpDelete ones
//	}
package watcher
