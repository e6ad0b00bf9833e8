package ruleset

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-reads the operator rule set whenever the file changes on disk.
// Watching the parent directory survives editors that replace the file.
type Watcher struct {
	path    string
	log     *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:    filepath.Clean(path),
		log:     log.Named("compliance.ruleset"),
		watcher: fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start delivers parsed rule sets to onChange until Stop is called. Parse
// failures are logged and skipped; the previous rules stay in effect.
func (w *Watcher) Start(onChange func([]Entry)) {
	go func() {
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				entries, err := LoadFile(w.path)
				if err != nil {
					w.log.Warn("ignoring unreadable rule set update", zap.Error(err))
					continue
				}
				w.log.Info("rule set file changed", zap.Int("rules", len(entries)))
				onChange(entries)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("rule set watch error", zap.Error(err))
			}
		}
	}()
}

func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}
