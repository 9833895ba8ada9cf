package attribution

import (
	"slices"
	"sync"

	"github.com/AdguardTeam/golibs/container"
)

// PageReport is the deduplicated set of requests detected on a single page.
// It is safe for concurrent use.
type PageReport struct {
	// mu protects detected, order, and entities.
	mu *sync.Mutex

	// detected maps the keys of the detected requests to the first detection.
	detected map[Key]*DetectedTracker

	// order are the keys in the order of the first detection.
	order []Key

	// entities are the display names of the detected entities.
	entities *container.MapSet[string]

	pageURL string
}

// NewPageReport returns a new empty report for the page at pageURL.
func NewPageReport(pageURL string) (r *PageReport) {
	return &PageReport{
		mu:       &sync.Mutex{},
		detected: map[Key]*DetectedTracker{},
		entities: container.NewMapSet[string](),
		pageURL:  pageURL,
	}
}

// PageURL returns the URL of the page.
func (r *PageReport) PageURL() (u string) {
	return r.pageURL
}

// Add adds d to the report.  added is false if a request with the same key has
// already been detected; the stored detection is marked as blocked if d is.  d
// may be nil, in which case nothing is added.
func (r *PageReport) Add(d *DetectedTracker) (added bool) {
	if d == nil {
		return false
	}

	k := d.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.detected[k]; ok {
		if d.Blocked && !prev.Blocked {
			upd := *prev
			upd.Blocked = true
			r.detected[k] = &upd
		}

		return false
	}

	r.detected[k] = d
	r.order = append(r.order, k)
	if name := d.EntityName(); name != "" {
		r.entities.Add(name)
	}

	return true
}

// Detected returns the detected requests in the order of detection.
func (r *PageReport) Detected() (detected []*DetectedTracker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	detected = make([]*DetectedTracker, 0, len(r.order))
	for _, k := range r.order {
		detected = append(detected, r.detected[k])
	}

	return detected
}

// Counts returns the numbers of unique blocked and allowed detections.
func (r *PageReport) Counts() (blocked, allowed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.detected {
		if d.Blocked {
			blocked++
		} else {
			allowed++
		}
	}

	return blocked, allowed
}

// Entities returns the sorted display names of the detected entities.
func (r *PageReport) Entities() (names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names = r.entities.Values()
	slices.Sort(names)

	return names
}

// BlockedEntities returns the sorted display names of the entities that have
// at least one blocked detection.
func (r *PageReport) BlockedEntities() (names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := container.NewMapSet[string]()
	for _, d := range r.detected {
		if name := d.EntityName(); d.Blocked && name != "" {
			set.Add(name)
		}
	}

	names = set.Values()
	slices.Sort(names)

	return names
}
