// Package datawatch contains the watcher of the dataset files, which triggers
// reloads of the tracker data and the privacy configuration.
package datawatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/fsnotify/fsnotify"
)

// Event is sent when some of the tracked files have been written, created, or
// replaced.
type Event struct {
	// Names are the sorted absolute paths of the changed files.
	Names []string
}

// Interface tracks the dataset files and notifies about their changes.
type Interface interface {
	service.Interface

	// Events returns the channel to notify about the changes.  It is closed
	// after the shutdown.
	Events() (e <-chan *Event)

	// Add starts tracking the file.  The file does not need to exist.
	Add(name string) (err error)

	// Remove stops tracking the file.
	Remove(name string) (err error)
}

// watchedOps are the operations that may change the contents of a file.  Files
// written atomically are created or renamed into place.
const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// Watcher tracks the files using the notifications of the OS.
type Watcher struct {
	logger *slog.Logger

	// filesMu protects files.
	filesMu *sync.RWMutex

	// watcher is the actual notifier.
	watcher *fsnotify.Watcher

	// events is the channel to notify.
	events chan *Event

	// files maps directories to the files tracked in them.
	files map[string]*container.MapSet[string]
}

// watcherPref is a prefix for wrapping errors in Watcher's methods.
const watcherPref = "data watcher"

// New returns a new watcher.  l must not be nil.
func New(l *slog.Logger) (w *Watcher, err error) {
	defer func() { err = errors.Annotate(err, "%s: %w", watcherPref) }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	return &Watcher{
		logger:  l,
		filesMu: &sync.RWMutex{},
		watcher: watcher,
		events:  make(chan *Event, 1),
		files:   map[string]*container.MapSet[string]{},
	}, nil
}

// type check
var _ Interface = (*Watcher)(nil)

// Start implements the [Interface] interface for *Watcher.
func (w *Watcher) Start(ctx context.Context) (err error) {
	go w.handleErrors(ctx)
	go w.handleEvents(ctx)

	return nil
}

// Shutdown implements the [Interface] interface for *Watcher.
func (w *Watcher) Shutdown(_ context.Context) (err error) {
	return w.watcher.Close()
}

// Events implements the [Interface] interface for *Watcher.
func (w *Watcher) Events() (e <-chan *Event) {
	return w.events
}

// Add implements the [Interface] interface for *Watcher.
func (w *Watcher) Add(name string) (err error) {
	defer func() { err = errors.Annotate(err, "%s: %w", watcherPref) }()

	name, err = filepath.Abs(name)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	// Watch the directory and filter the events by the file name, since
	// watching files directly loses them after an atomic replacement.
	dirName := filepath.Dir(name)

	w.filesMu.Lock()
	defer w.filesMu.Unlock()

	names := w.files[dirName]
	if names == nil {
		err = w.watcher.Add(dirName)
		if err != nil {
			return fmt.Errorf("adding %q: %w", dirName, err)
		}

		names = container.NewMapSet[string]()
		w.files[dirName] = names
	}

	names.Add(name)

	return nil
}

// Remove implements the [Interface] interface for *Watcher.
func (w *Watcher) Remove(name string) (err error) {
	defer func() { err = errors.Annotate(err, "%s: %w", watcherPref) }()

	name, err = filepath.Abs(name)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	dirName := filepath.Dir(name)

	w.filesMu.Lock()
	defer w.filesMu.Unlock()

	names := w.files[dirName]
	if !names.Has(name) {
		// Name is not tracked.
		return nil
	}

	names.Delete(name)
	if names.Len() > 0 {
		// Some files are still tracked in the directory.
		return nil
	}

	delete(w.files, dirName)

	err = w.watcher.Remove(dirName)
	if err != nil {
		return fmt.Errorf("removing %q: %w", dirName, err)
	}

	return nil
}

// handleEvents notifies about the changes of the tracked files.  It is
// intended to be used as a goroutine.
func (w *Watcher) handleEvents(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	defer close(w.events)

	ch := w.watcher.Events
	for e := range ch {
		changed := container.NewMapSet[string]()
		w.collect(changed, e)
		w.drain(changed, ch)

		if changed.Len() == 0 {
			continue
		}

		w.send(ctx, changed)
	}
}

// collect adds the name of e to changed if it is a tracked file changed by a
// watched operation.
func (w *Watcher) collect(changed *container.MapSet[string], e fsnotify.Event) {
	if e.Op&watchedOps == 0 {
		return
	}

	name := filepath.Clean(e.Name)
	if w.isTracked(name) {
		changed.Add(name)
	}
}

// drain collects the events that are already in ch, assuming that a single
// write produces several of them.
func (w *Watcher) drain(changed *container.MapSet[string], ch <-chan fsnotify.Event) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}

			w.collect(changed, e)
		default:
			return
		}
	}
}

// send sends the event with the changed names.  If the previous event hasn't
// been received yet, it is merged into the new one.
func (w *Watcher) send(ctx context.Context, changed *container.MapSet[string]) {
	select {
	case prev := <-w.events:
		w.logger.DebugContext(ctx, "merging unreceived event", "names", prev.Names)
		for _, name := range prev.Names {
			changed.Add(name)
		}
	default:
	}

	names := changed.Values()
	slices.Sort(names)

	// Only this goroutine sends to the channel, so it has room now.
	w.events <- &Event{
		Names: names,
	}
}

// isTracked returns true if the file is tracked.
func (w *Watcher) isTracked(name string) (ok bool) {
	w.filesMu.RLock()
	defer w.filesMu.RUnlock()

	return w.files[filepath.Dir(name)].Has(name)
}

// handleErrors handles accompanying errors.  It is intended to be used as a
// goroutine.
func (w *Watcher) handleErrors(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	for err := range w.watcher.Errors {
		w.logger.ErrorContext(ctx, "handling error", slogutil.KeyError, err)
	}
}

// Empty is a no-op implementation of the [Interface] interface.  It is used
// when watching is disabled.
type Empty struct{}

// type check
var _ Interface = Empty{}

// Start implements the [Interface] interface for Empty.  It always returns nil
// error.
func (Empty) Start(_ context.Context) (err error) {
	return nil
}

// Shutdown implements the [Interface] interface for Empty.  It always returns
// nil error.
func (Empty) Shutdown(_ context.Context) (err error) {
	return nil
}

// Events implements the [Interface] interface for Empty.  It always returns
// nil channel.
func (Empty) Events() (e <-chan *Event) {
	return nil
}

// Add implements the [Interface] interface for Empty.  It always returns nil
// error.
func (Empty) Add(_ string) (err error) {
	return nil
}

// Remove implements the [Interface] interface for Empty.  It always returns nil
// error.
func (Empty) Remove(_ string) (err error) {
	return nil
}
