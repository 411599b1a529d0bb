package execserver

import (
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/agentcore/execorch/internal/logging"
)

// artifactWatcher watches one session's cwd and records every file created
// or written there, whether by the kernel, through UploadFile, or by a user
// or external tool dropping a file directly into the work root. It only
// tracks names; the existing download/artifact path still resolves content
// by path, so this is purely a discovery aid.
type artifactWatcher struct {
	watcher *fsnotify.Watcher
	dir     string

	mu      sync.RWMutex
	pattern string
	seen    map[string]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// newArtifactWatcher starts watching dir. pattern, if non-empty, is a
// doublestar glob restricting which created file names are tracked (e.g.
// "*.csv" or "**/*.png"); an empty pattern tracks everything.
func newArtifactWatcher(dir, pattern string) (*artifactWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	aw := &artifactWatcher{
		watcher: w,
		dir:     dir,
		pattern: pattern,
		seen:    make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go aw.run()
	return aw, nil
}

func (w *artifactWatcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.noteFile(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Str("dir", w.dir).Msg("artifact watcher error")
		}
	}
}

func (w *artifactWatcher) noteFile(path string) {
	if w.pattern != "" {
		name, err := filepath.Rel(w.dir, path)
		if err != nil {
			name = filepath.Base(path)
		}
		if match, err := doublestar.Match(w.pattern, name); err != nil || !match {
			return
		}
	}
	w.mu.Lock()
	_, already := w.seen[path]
	w.seen[path] = struct{}{}
	w.mu.Unlock()
	if !already {
		logging.Info().Str("dir", w.dir).Str("path", path).Msg("artifact detected in session cwd")
	}
}

// Detected returns every file path observed since the watcher started.
func (w *artifactWatcher) Detected() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.seen))
	for p := range w.seen {
		out = append(out, p)
	}
	return out
}

func (w *artifactWatcher) Close() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	return w.watcher.Close()
}
