// Package watch guards the slot directory of a store against changes made
// behind its back.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before the
// directory is reconciled.
const DefaultDebounce = 200 * time.Millisecond

// Reconciler rewrites slots that disappeared from disk and returns the
// names of the affected files.
type Reconciler interface {
	Reconcile() []string
}

// Callback is called with the names rewritten by a reconciliation pass.
type Callback func(rewritten []string)

// Options configures Watch.
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
	OnRepair Callback
}

// Watch observes dir until ctx is cancelled. Removing or renaming a slot
// schedules a debounced reconciliation through r, so a slot deleted by
// another process is written again from the cache. Dot entries are the
// store's own temp files and are ignored.
func Watch(ctx context.Context, dir string, r Reconciler, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("watch: started", slog.String("dir", dir))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watch: stopped")
			return nil

		case <-timerCh:
			rewritten := r.Reconcile()
			if len(rewritten) > 0 {
				logger.Info("watch: slots restored", slog.Int("count", len(rewritten)))
				if opts.OnRepair != nil {
					opts.OnRepair(rewritten)
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(ev.Name)
			if strings.HasPrefix(base, ".") {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("watch: slot gone", slog.String("entry", base), slog.String("op", ev.Op.String()))
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: error", slog.String("error", watchErr.Error()))
		}
	}
}
