// Package privacyconfig contains the privacy configuration: feature states,
// per-feature exceptions, temporarily unprotected domains, and the tracker
// allow-list.
package privacyconfig

import (
	"slices"
)

// Feature is the name of a privacy feature.
type Feature string

// Recognized features.
const (
	FeatureClickToLoad      Feature = "clickToLoad"
	FeatureContentBlocking  Feature = "contentBlocking"
	FeatureTrackerAllowlist Feature = "trackerAllowlist"
)

// Origin describes where the current snapshot came from.
type Origin string

// Origin values.
const (
	OriginEmbedded         Origin = "embedded"
	OriginEmbeddedFallback Origin = "embeddedFallback"
	OriginDownloaded       Origin = "downloaded"
)

// Exception is an exception from a feature or from protection in general.
type Exception struct {
	// Domain is the normalized domain of the exception.
	Domain string

	// Reason is the informational reason of the exception.
	Reason string
}

// FeatureState is the state of a single feature.
type FeatureState struct {
	// Settings are the typed settings of the feature.  It is never nil.
	Settings Settings

	// Exceptions are the domains the feature is disabled for in the document
	// order.
	Exceptions []*Exception

	// Enabled is true if the feature is enabled.
	Enabled bool
}

// Settings is the sum type of feature settings.  The implementations are:
//
//   - [*ClickToLoadSettings];
//   - [EmptySettings];
//   - [*TrackerAllowlistSettings].
type Settings interface {
	isSettings()
}

// EmptySettings are the settings of features without recognized settings.
type EmptySettings struct{}

// isSettings implements the [Settings] interface for EmptySettings.
func (EmptySettings) isSettings() {}

// ClickToLoadSettings are the settings of [FeatureClickToLoad].
type ClickToLoadSettings struct {
	// Entities are the sorted names of entities whose trackers are moved to
	// the click-to-load rule list.
	Entities []string
}

// isSettings implements the [Settings] interface for *ClickToLoadSettings.
func (*ClickToLoadSettings) isSettings() {}

// TrackerAllowlistSettings are the settings of [FeatureTrackerAllowlist].
type TrackerAllowlistSettings struct {
	// Entries are the allow-list entries sorted by tracker domain.  The
	// entries of a single tracker are in the document order.
	Entries []*AllowListEntry
}

// isSettings implements the [Settings] interface for
// *TrackerAllowlistSettings.
func (*TrackerAllowlistSettings) isSettings() {}

// AllowListEntry is a rule-level override that exempts requests matching Rule
// from blocking on the pages of Domains.
type AllowListEntry struct {
	// Tracker is the domain of the tracker the entry belongs to.
	Tracker string

	// Rule is the URL part the entry applies to, for example
	// "tracker.com/widget.js".
	Rule string

	// Reason is the informational reason of the entry.
	Reason string

	// Domains are the sorted first-party domains the entry applies to.  It is
	// empty if AllDomains is true.
	Domains []string

	// AllDomains is true if the entry applies on all pages.
	AllDomains bool
}

// Snapshot is an immutable version of the privacy configuration.  It is safe
// for concurrent use.
type Snapshot struct {
	features        map[Feature]*FeatureState
	tempUnprotected []string
	identifier      string
	origin          Origin
}

// Identifier returns the unique identifier of the snapshot.  It is used as
// a part of compilation cache keys.
func (s *Snapshot) Identifier() (id string) {
	return s.identifier
}

// Origin returns the origin of the snapshot.
func (s *Snapshot) Origin() (o Origin) {
	return s.origin
}

// Feature returns the state of the feature or nil if the document does not
// contain it.
func (s *Snapshot) Feature(f Feature) (fs *FeatureState) {
	return s.features[f]
}

// IsEnabled returns true if the feature is present and enabled.
func (s *Snapshot) IsEnabled(f Feature) (ok bool) {
	fs := s.features[f]

	return fs != nil && fs.Enabled
}

// Exceptions returns the exception domains of the feature in the document
// order.
func (s *Snapshot) Exceptions(f Feature) (domains []string) {
	fs := s.features[f]
	if fs == nil {
		return nil
	}

	domains = make([]string, 0, len(fs.Exceptions))
	for _, e := range fs.Exceptions {
		domains = append(domains, e.Domain)
	}

	return domains
}

// TempUnprotectedDomains returns the globally temporarily unprotected domains.
// The returned slice must not be modified.
func (s *Snapshot) TempUnprotectedDomains() (domains []string) {
	return s.tempUnprotected
}

// AllowList returns the tracker allow-list entries.  It returns nil if
// [FeatureTrackerAllowlist] is disabled.
func (s *Snapshot) AllowList() (entries []*AllowListEntry) {
	if !s.IsEnabled(FeatureTrackerAllowlist) {
		return nil
	}

	set, ok := s.features[FeatureTrackerAllowlist].Settings.(*TrackerAllowlistSettings)
	if !ok {
		return nil
	}

	return set.Entries
}

// ClickToLoadEntities returns the names of the entities of the click-to-load
// list.  It returns nil if [FeatureClickToLoad] is disabled.
func (s *Snapshot) ClickToLoadEntities() (names []string) {
	if !s.IsEnabled(FeatureClickToLoad) {
		return nil
	}

	set, ok := s.features[FeatureClickToLoad].Settings.(*ClickToLoadSettings)
	if !ok {
		return nil
	}

	return slices.Clone(set.Entities)
}
