package tds

import (
	"cmp"
	"net/url"
	"slices"
	"strings"

	"github.com/bluele/gcache"
)

// DefaultCacheSize is the default size of the host lookup cache of a data set.
const DefaultCacheSize = 1024

// DataSet is an immutable snapshot of tracker data.  It is safe for concurrent
// use.
type DataSet struct {
	// cache maps normalized hosts to their *lookupResult.  It is nil if
	// caching is disabled.
	cache gcache.Cache

	trackers map[string]*Tracker
	entities map[string]*Entity
	domains  map[string]string
	cnames   map[string]string

	// sorted are the trackers sorted by domain.
	sorted []*Tracker

	etag   string
	origin Origin
}

// lookupResult is the cached result of resolving a host.
type lookupResult struct {
	tracker *Tracker
	entity  *Entity
}

// newDataSet returns a new data set from the decoded data.  If cacheSize is
// not positive, lookups are not cached.
func newDataSet(d *decodedData, etag string, origin Origin, cacheSize int) (ds *DataSet) {
	ds = &DataSet{
		trackers: d.trackers,
		entities: d.entities,
		domains:  d.domains,
		cnames:   d.cnames,
		etag:     etag,
		origin:   origin,
	}

	if cacheSize > 0 {
		ds.cache = gcache.New(cacheSize).LRU().Build()
	}

	ds.sorted = make([]*Tracker, 0, len(d.trackers))
	for _, t := range d.trackers {
		ds.sorted = append(ds.sorted, t)
	}

	slices.SortFunc(ds.sorted, func(a, b *Tracker) (res int) {
		return cmp.Compare(a.Domain, b.Domain)
	})

	return ds
}

// Etag returns the etag of the document the data set has been decoded from.
func (ds *DataSet) Etag() (etag string) {
	return ds.etag
}

// Origin returns the origin of the data set.
func (ds *DataSet) Origin() (o Origin) {
	return ds.origin
}

// Len returns the number of trackers in the data set.
func (ds *DataSet) Len() (n int) {
	return len(ds.sorted)
}

// Trackers returns the trackers sorted by domain.  The returned slice must not
// be modified.
func (ds *DataSet) Trackers() (trackers []*Tracker) {
	return ds.sorted
}

// EntityByName returns the entity with the given name or nil.
func (ds *DataSet) EntityByName(name string) (e *Entity) {
	return ds.entities[name]
}

// FindTracker returns the tracker that host belongs to or nil.  If host is
// a CNAME of a tracker, the returned tracker reports host as its domain.
func (ds *DataSet) FindTracker(host string) (t *Tracker) {
	return ds.lookup(host).tracker
}

// FindTrackerByURL is like [DataSet.FindTracker] but uses the host of rawURL.
func (ds *DataSet) FindTrackerByURL(rawURL string) (t *Tracker) {
	return ds.FindTracker(hostOf(rawURL))
}

// FindEntity returns the entity that owns host or nil.
func (ds *DataSet) FindEntity(host string) (e *Entity) {
	return ds.lookup(host).entity
}

// FindEntityByURL is like [DataSet.FindEntity] but uses the host of rawURL.
func (ds *DataSet) FindEntityByURL(rawURL string) (e *Entity) {
	return ds.FindEntity(hostOf(rawURL))
}

// hostOf returns the host of rawURL or an empty string if rawURL is not a
// valid URL.
func hostOf(rawURL string) (host string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Hostname()
}

// lookup returns the possibly cached result of resolving host.
func (ds *DataSet) lookup(host string) (res *lookupResult) {
	host = normalizeHost(host)
	if host == "" {
		return &lookupResult{}
	}

	if ds.cache != nil {
		v, err := ds.cache.Get(host)
		if err == nil {
			return v.(*lookupResult)
		}
	}

	res = ds.resolve(host)
	if ds.cache != nil {
		// The LRU cache never returns an error on Set.
		_ = ds.cache.Set(host, res)
	}

	return res
}

// resolve resolves host.  Direct records of every variant take precedence over
// CNAME records.
func (ds *DataSet) resolve(host string) (res *lookupResult) {
	variants := DomainVariants(host)

	res = &lookupResult{
		tracker: ds.trackerFor(variants),
	}

	if res.tracker == nil {
		res.tracker = ds.uncloak(host, variants)
	}

	for _, v := range variants {
		if name, ok := ds.domains[v]; ok {
			res.entity = ds.entities[name]

			return res
		}
	}

	if res.tracker != nil && res.tracker.Owner != "" {
		res.entity = ds.entities[res.tracker.Owner]
	}

	return res
}

// trackerFor returns the tracker of the first variant with a record.
func (ds *DataSet) trackerFor(variants []string) (t *Tracker) {
	for _, v := range variants {
		if t = ds.trackers[v]; t != nil {
			return t
		}
	}

	return nil
}

// uncloak returns the tracker of the first variant that is a CNAME of
// a tracker.  The returned tracker is a copy reporting host as its domain.
func (ds *DataSet) uncloak(host string, variants []string) (t *Tracker) {
	for _, v := range variants {
		target, ok := ds.cnames[v]
		if !ok {
			continue
		}

		canonical := ds.trackerFor(DomainVariants(target))
		if canonical == nil {
			continue
		}

		uncloaked := *canonical
		uncloaked.Domain = host

		return &uncloaked
	}

	return nil
}

// Split returns two data sets: rest without the trackers owned by the given
// entities and only with just those trackers.  The etags of both contain the
// names of the entities, so that their compiled lists have distinct
// identifiers.
func (ds *DataSet) Split(entities []string) (rest, only *DataSet) {
	names := slices.Sorted(slices.Values(entities))
	names = slices.Compact(names)
	suffix := strings.Join(names, ",")

	restData := ds.cloneTables()
	onlyData := ds.cloneTables()
	restData.trackers = make(map[string]*Tracker, len(ds.trackers))
	onlyData.trackers = make(map[string]*Tracker)

	for domain, t := range ds.trackers {
		if t.Owner != "" && slices.Contains(names, t.Owner) {
			onlyData.trackers[domain] = t
		} else {
			restData.trackers[domain] = t
		}
	}

	cacheSize := 0
	if ds.cache != nil {
		cacheSize = DefaultCacheSize
	}

	rest = newDataSet(restData, ds.etag+";without="+suffix, ds.origin, cacheSize)
	only = newDataSet(onlyData, ds.etag+";only="+suffix, ds.origin, cacheSize)

	return rest, only
}

// cloneTables returns decoded data sharing the immutable tables of ds.
func (ds *DataSet) cloneTables() (d *decodedData) {
	return &decodedData{
		trackers: ds.trackers,
		entities: ds.entities,
		domains:  ds.domains,
		cnames:   ds.cnames,
	}
}
