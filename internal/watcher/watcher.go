// Package watcher triggers an index rebuild when corpus files change.
// Bursts of filesystem events are coalesced: the rebuild runs once the
// directory has been quiet for the debounce window.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/logger"
)

// DefaultDebounce applies when New is given a non-positive window.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches one corpus directory (not recursively).
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func(ctx context.Context) error
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
}

// New starts watching dir. Changes to .txt files eventually call onChange,
// never concurrently with itself.
func New(dir string, debounce time.Duration, onChange func(ctx context.Context) error) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		fsw:      fsw,
		logger:   logger.WithComponent("corpus-watcher").With("dir", dir),
	}, nil
}

// Run dispatches debounced changes until ctx is cancelled, then releases
// the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	w.logger.Info("watching corpus", "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := 0

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("corpus change", "file", filepath.Base(event.Name), "op", event.Op.String())
			pending++
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		case <-timer.C:
			w.logger.Info("corpus changed, rebuilding", "events", pending)
			pending = 0
			if err := w.onChange(ctx); err != nil {
				w.logger.Error("rebuild after corpus change failed", "error", err)
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !indexer.IsCorpusFile(filepath.Base(event.Name)) {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
