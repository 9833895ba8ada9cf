// Package attribution attributes network requests to trackers and entities
// for reporting.
package attribution

import (
	"net/url"
	"strings"

	"github.com/AdguardTeam/TrackerShield/internal/tds"
	"golang.org/x/net/publicsuffix"
)

// Kind is the kind of a detected request.
type Kind string

// Kind values.
const (
	// KindTracker is a request to a known tracker.
	KindTracker Kind = "tracker"

	// KindThirdParty is a request to a host that is not a known tracker but
	// belongs to another entity or site than the page.
	KindThirdParty Kind = "third_party"
)

// DetectedTracker is a request attributed to a tracker or an entity.
type DetectedTracker struct {
	// Tracker is the matched tracker record, if any.
	Tracker *tds.Tracker

	// Entity is the entity owning the request host, if any.
	Entity *tds.Entity

	// URL is the URL of the request.
	URL string

	// PageURL is the URL of the page that made the request.
	PageURL string

	// Host is the lowercase host of the request.
	Host string

	// ETLDPlusOne is the registrable domain of the request host.
	ETLDPlusOne string

	// Kind is the kind of the request.
	Kind Kind

	// Blocked is true if the request has been blocked.
	Blocked bool
}

// Key is the deduplication key of detected trackers.
type Key struct {
	// EntityName is the display name of the entity or an empty string.
	EntityName string

	// Host is the request host.
	Host string
}

// Key returns the deduplication key of d.
func (d *DetectedTracker) Key() (k Key) {
	return Key{
		EntityName: d.EntityName(),
		Host:       d.Host,
	}
}

// EntityName returns the display name of the entity of d or an empty string.
func (d *DetectedTracker) EntityName() (name string) {
	if d.Entity == nil {
		return ""
	}

	return d.Entity.DisplayName
}

// TrackerData is the source of tracker data for attribution.
type TrackerData interface {
	// Current returns the current data set.  It must not return nil.
	Current() (ds *tds.DataSet)
}

// type check
var _ TrackerData = (*tds.Registry)(nil)

// Attributor attributes requests using the current tracker data.  It is safe
// for concurrent use.
type Attributor struct {
	trackers TrackerData
}

// New returns a new attributor.  trackers must not be nil.
func New(trackers TrackerData) (a *Attributor) {
	return &Attributor{
		trackers: trackers,
	}
}

// Attribute returns the detected tracker for the request to requestURL made by
// the page at pageURL.  d is nil if the request is neither to a tracker nor to
// a third party, or if requestURL has no host.
func (a *Attributor) Attribute(requestURL, pageURL string, blocked bool) (d *DetectedTracker) {
	return Attribute(a.trackers.Current(), requestURL, pageURL, blocked)
}

// Attribute is like [Attributor.Attribute] but uses ds.  Use it with the
// tracker data of a published rule list to attribute requests consistently
// with the rules that have handled them.
func Attribute(ds *tds.DataSet, requestURL, pageURL string, blocked bool) (d *DetectedTracker) {
	host := hostname(requestURL)
	if host == "" {
		return nil
	}

	d = &DetectedTracker{
		URL:         requestURL,
		PageURL:     pageURL,
		Host:        host,
		ETLDPlusOne: etldPlusOne(host),
		Blocked:     blocked,
	}

	if t := ds.FindTracker(host); t != nil {
		d.Tracker = t
		d.Kind = KindTracker
		d.Entity = ds.EntityByName(t.Owner)
		if d.Entity == nil {
			d.Entity = ds.FindEntity(host)
		}

		return d
	}

	pageHost := hostname(pageURL)
	d.Entity = ds.FindEntity(host)
	if !isThirdParty(d, pageHost, ds.FindEntity(pageHost)) {
		return nil
	}

	d.Kind = KindThirdParty

	return d
}

// isThirdParty returns true if the request described by d doesn't belong to
// the page's entity or, when the entities are unknown, to the page's site.
func isThirdParty(d *DetectedTracker, pageHost string, pageEntity *tds.Entity) (ok bool) {
	if d.Entity != nil && pageEntity != nil {
		return d.Entity.Name != pageEntity.Name
	} else if d.Entity != nil {
		return true
	}

	return pageHost != "" && d.ETLDPlusOne != etldPlusOne(pageHost)
}

// hostname returns the lowercase host of rawURL or an empty string.
func hostname(rawURL string) (host string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// etldPlusOne returns the registrable domain of host or host itself if there
// is none.
func etldPlusOne(host string) (d string) {
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}

	return d
}
