package functions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

const defaultDebounceDuration = 500 * time.Millisecond

// watchPatterns are the files a change in which warrants a rescan.
var watchPatterns = []string{"*.js", "*.mjs", "*.cjs", "*.py", "*.yaml"}

// Watcher observes the functions directory and hot-reloads the registry
// when handler or manifest files change. Bursts of events (editor save,
// deploy writing handler plus manifest) collapse into one rescan through
// a debounce timer.
type Watcher struct {
	service  *Service
	watcher  *fsnotify.Watcher
	matchers []glob.Glob

	debounce      time.Duration
	debounceTimer *time.Timer
	mu            sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher over the service's functions directory.
func NewWatcher(service *Service) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	matchers := make([]glob.Glob, 0, len(watchPatterns))
	for _, p := range watchPatterns {
		matchers = append(matchers, glob.MustCompile(p, '/'))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		service:  service,
		watcher:  fsw,
		matchers: matchers,
		debounce: defaultDebounceDuration,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetDebounce overrides the debounce window.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins watching. The directory must exist.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.service.scanner.Dir()); err != nil {
		return fmt.Errorf("watching %s: %w", w.service.scanner.Dir(), err)
	}

	w.wg.Add(1)
	go w.eventLoop()

	log.Info().Str("path", w.service.scanner.Dir()).Msg("Watching functions directory")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}

			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Function file changed")
			w.scheduleRescan()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) matches(path string) bool {
	base := basename(path)
	for _, m := range w.matchers {
		if m.Match(base) {
			return true
		}
	}
	return false
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func (w *Watcher) scheduleRescan() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		log.Info().Msg("Reloading functions after file change")
		if err := w.service.Rescan(w.ctx); err != nil {
			log.Error().Err(err).Msg("Rescan failed")
		}
	})
}
