package ticket

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// ReloadFunc applies one parsed seed generation.
type ReloadFunc func(seeds *Seeds) error

// Watcher watches a seed file and applies each new generation through
// the configured ReloadFunc.
type Watcher struct {
	path   string
	reload ReloadFunc
}

// NewWatcher returns a new Watcher for the seed file at path.
func NewWatcher(path string, reload ReloadFunc) *Watcher {
	return &Watcher{
		path:   path,
		reload: reload,
	}
}

// Run watches the seed file until the context is cancelled. This is a
// blocking function.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ticket: watch: %s", err)
	}
	defer func() { _ = fw.Close() }()

	// Watch the directory rather than the file itself: secret managers
	// and editors replace the file on update, which drops a watch held on
	// the old inode.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("ticket: watch %s: %s", w.path, err)
	}

	klog.Infof("watching ticket seed file; path=%q", w.path)
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.apply()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("seed watcher error: %s", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply parses the seed file and hands the result to the reload
// callback. A parse failure keeps the previous generation in place.
func (w *Watcher) apply() {
	seeds, err := ParseSeedsFile(w.path)
	if err != nil {
		klog.Errorf("failed to parse ticket seeds; keeping current keys: %s", err)
		return
	}

	if err := w.reload(seeds); err != nil {
		klog.Errorf("failed to rotate ticket keys: %s", err)
		return
	}

	klog.Infof("rotated ticket keys; old=%d current=%d new=%d", len(seeds.Old), len(seeds.Current), len(seeds.New))
}
