package tds

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// ErrNoEmbeddedData is returned by [NewRegistry] when there is no usable
// embedded dataset.
const ErrNoEmbeddedData errors.Error = "no usable embedded tracker data"

// RegistryConfig is the configuration structure for a *Registry.
type RegistryConfig struct {
	// Logger is used to log the operation of the registry.  It must not be
	// nil.
	Logger *slog.Logger

	// Reporter receives the decoding and validation errors.  It must not be
	// nil.
	Reporter cbevent.Reporter

	// Embedded is the dataset shipped with the application.  It must not be
	// nil and must be valid.
	Embedded *Source

	// Name is the name of the dataset used in events, for example "tds".
	Name string

	// CacheSize is the size of the host lookup cache of every snapshot.  If
	// it is not positive, lookups are not cached.
	CacheSize int
}

// Registry is the tracker registry.  It holds the current [DataSet] and
// replaces it atomically on every successful load.
type Registry struct {
	logger   *slog.Logger
	reporter cbevent.Reporter
	current  *atomic.Pointer[DataSet]
	embedded *Source
	name     string

	cacheSize int
}

// NewRegistry returns a new registry initialized with the embedded dataset.
// It returns [ErrNoEmbeddedData] if the embedded dataset cannot be used.
func NewRegistry(ctx context.Context, c *RegistryConfig) (r *Registry, err error) {
	r = &Registry{
		logger:    c.Logger,
		reporter:  c.Reporter,
		current:   &atomic.Pointer[DataSet]{},
		embedded:  c.Embedded,
		name:      c.Name,
		cacheSize: c.CacheSize,
	}

	if c.Embedded == nil {
		return nil, ErrNoEmbeddedData
	}

	ds, err := r.decode(ctx, c.Embedded, OriginEmbedded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoEmbeddedData, err)
	}

	r.current.Store(ds)

	return r, nil
}

// Current returns the current snapshot.  It is never nil.
func (r *Registry) Current() (ds *DataSet) {
	return r.current.Load()
}

// Embedded returns the snapshot decoded from the embedded dataset.  It is
// used to compile fallback rules.
func (r *Registry) Embedded() (ds *DataSet, err error) {
	// The embedded dataset has been validated by NewRegistry, so the issues
	// have already been reported.
	d, err := decode(r.embedded.Data)
	if err != nil {
		return nil, &DecodeError{Err: err, Etag: r.embedded.Etag}
	}

	return newDataSet(d, r.embedded.Etag, OriginEmbedded, r.cacheSize), nil
}

// Load decodes src and replaces the current snapshot with it.  If src is nil,
// the embedded dataset is loaded.  If src cannot be decoded, the error is
// reported and returned, and the current snapshot is kept.
func (r *Registry) Load(ctx context.Context, src *Source) (err error) {
	origin := OriginDownloaded
	if src == nil {
		src, origin = r.embedded, OriginEmbedded
	}

	ds, err := r.decode(ctx, src, origin)
	if err != nil {
		cbevent.ReportError(ctx, r.reporter, cbevent.KindDatasetDecode, r.name, err)
		r.logger.WarnContext(
			ctx,
			"keeping previous tracker data",
			cbevent.KeyEtag, r.Current().Etag(),
			slogutil.KeyError, err,
		)

		return err
	}

	r.current.Store(ds)
	r.logger.InfoContext(
		ctx,
		"tracker data loaded",
		cbevent.KeyEtag, ds.Etag(),
		cbevent.KeyOrigin, ds.Origin(),
		"trackers", ds.Len(),
	)

	return nil
}

// decode decodes src and reports the validation issues.
func (r *Registry) decode(
	ctx context.Context,
	src *Source,
	origin Origin,
) (ds *DataSet, err error) {
	d, err := decode(src.Data)
	if err != nil {
		return nil, &DecodeError{Err: err, Etag: src.Etag}
	}

	for _, issue := range d.issues {
		cbevent.ReportError(ctx, r.reporter, cbevent.KindTrackerDataValidation, r.name, issue)
	}

	if len(d.issues) > 0 {
		r.logger.WarnContext(
			ctx,
			"dropped invalid tracker records",
			cbevent.KeyEtag, src.Etag,
			"count", len(d.issues),
		)
	}

	return newDataSet(d, src.Etag, origin, r.cacheSize), nil
}

// FindTracker returns the tracker that host belongs to in the current
// snapshot.  See [DataSet.FindTracker].
func (r *Registry) FindTracker(host string) (t *Tracker) {
	return r.Current().FindTracker(host)
}

// FindEntity returns the entity that owns host in the current snapshot.
func (r *Registry) FindEntity(host string) (e *Entity) {
	return r.Current().FindEntity(host)
}

// EntityByName returns the entity with the given name in the current snapshot.
func (r *Registry) EntityByName(name string) (e *Entity) {
	return r.Current().EntityByName(name)
}
