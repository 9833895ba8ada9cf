package rulesmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/google/renameio/v2/maybe"
)

// permFreshness are the permissions of the freshness metadata file.
const permFreshness fs.FileMode = 0o600

// freshnessEntry is the persisted metadata of a compiled list.
type freshnessEntry struct {
	// Verified is the time when the list has last been compiled or found in
	// the store.
	Verified time.Time `json:"verified"`

	// Identifier is the identifier of the list in the store.
	Identifier string `json:"identifier"`

	// Etag is the etag of the tracker data the list has been compiled from.
	Etag string `json:"etag"`
}

// freshness is the freshness metadata of the compiled lists.  It is only used
// by [New] and the compilation goroutine, so it needs no locking, but entries
// must not be modified concurrently with reads.
type freshness struct {
	clock timeutil.Clock

	// entries maps rule-list names to the metadata.
	entries map[string]*freshnessEntry

	path   string
	window time.Duration
}

// newFreshness returns the metadata read from path.  A missing file means no
// metadata.  A file that cannot be read is logged and ignored, since the
// metadata is only used to skip compilations.
func newFreshness(
	ctx context.Context,
	l *slog.Logger,
	path string,
	clock timeutil.Clock,
	window time.Duration,
) (f *freshness) {
	f = &freshness{
		clock:   clock,
		entries: map[string]*freshnessEntry{},
		path:    path,
		window:  window,
	}

	if path == "" {
		return f
	}

	err := f.read()
	if err != nil {
		l.WarnContext(ctx, "ignoring freshness metadata", "path", path, slogutil.KeyError, err)
		f.entries = map[string]*freshnessEntry{}
	}

	return f
}

// read reads the metadata from the file.
func (f *freshness) read() (err error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	err = json.Unmarshal(data, &f.entries)
	if err != nil {
		return fmt.Errorf("decoding: %w", err)
	}

	// Guard against null values in the file.
	maps.DeleteFunc(f.entries, func(_ string, e *freshnessEntry) (del bool) {
		return e == nil
	})

	return nil
}

// isFresh returns true if the list with the given name has been compiled with
// id and verified within the staleness window.
func (f *freshness) isFresh(name, id string) (ok bool) {
	e := f.entries[name]

	return e != nil && e.Identifier == id && !f.isStale(e)
}

// isStale returns true if e has not been verified within the staleness
// window.
func (f *freshness) isStale(e *freshnessEntry) (ok bool) {
	return f.clock.Now().Sub(e.Verified) > f.window
}

// save writes the metadata to the file atomically.
func (f *freshness) save() (err error) {
	if f.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	err = maybe.WriteFile(f.path, data, permFreshness)
	if err != nil {
		return fmt.Errorf("writing %q: %w", f.path, err)
	}

	return nil
}

// removeStale removes the stale lists from the store and the metadata.
func (m *Manager) removeStale(ctx context.Context) (err error) {
	f := m.freshness

	var errs []error
	var removed bool
	for _, name := range slices.Sorted(maps.Keys(f.entries)) {
		e := f.entries[name]
		if !f.isStale(e) {
			continue
		}

		m.logger.InfoContext(
			ctx,
			"removing stale rule list",
			cbevent.KeyRuleList, name,
			cbevent.KeyIdentifier, e.Identifier,
			"verified", e.Verified,
		)

		rmErr := m.store.Remove(ctx, e.Identifier)
		if rmErr != nil {
			errs = append(errs, fmt.Errorf("list %q: %w", name, rmErr))

			continue
		}

		delete(f.entries, name)
		removed = true
	}

	if removed {
		errs = append(errs, f.save())
	}

	return errors.Join(errs...)
}

// updateFreshness records the lists published by a pass as verified now and
// removes the replaced lists from the store.  results are the results of the
// pass; see [Manager.publish].
func (m *Manager) updateFreshness(ctx context.Context, results map[string]*List) {
	f := m.freshness

	var errs []error
	for name, e := range f.entries {
		if _, ok := results[name]; ok {
			continue
		}

		errs = append(errs, m.store.Remove(ctx, e.Identifier))
		delete(f.entries, name)
	}

	now := m.clock.Now()
	for name, l := range results {
		if l == nil {
			continue
		}

		prev := f.entries[name]
		if prev != nil && prev.Identifier != l.Identifier {
			errs = append(errs, m.store.Remove(ctx, prev.Identifier))
		}

		f.entries[name] = &freshnessEntry{
			Verified:   now,
			Identifier: l.Identifier,
			Etag:       l.TrackerData.Etag(),
		}
	}

	errs = append(errs, f.save())

	err := errors.Join(errs...)
	if err != nil {
		m.logger.WarnContext(ctx, "updating freshness metadata", slogutil.KeyError, err)
	}
}
