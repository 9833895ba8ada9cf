package privacyconfig

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// ParseError is returned when a privacy-configuration document cannot be
// parsed.
type ParseError struct {
	// Err is the underlying parsing error.
	Err error

	// Etag is the etag of the document.
	Etag string
}

// type check
var _ error = (*ParseError)(nil)

// Error implements the error interface for *ParseError.
func (err *ParseError) Error() (msg string) {
	return fmt.Sprintf("parsing privacy configuration with etag %q: %s", err.Etag, err.Err)
}

// Unwrap implements the [errors.Wrapper] interface for *ParseError.
func (err *ParseError) Unwrap() (unwrapped error) {
	return err.Err
}

// allDomainsMarker is the allow-list domain that means all domains.
const allDomainsMarker = "<all>"

// stateEnabled is the feature state that enables a feature.
const stateEnabled = "enabled"

// configJSON is the JSON representation of the privacy configuration.
type configJSON struct {
	Features             map[Feature]*featureJSON `json:"features"`
	UnprotectedTemporary []*exceptionJSON         `json:"unprotectedTemporary"`
}

// featureJSON is the JSON representation of a feature.
type featureJSON struct {
	State      string           `json:"state"`
	Exceptions []*exceptionJSON `json:"exceptions"`
	Settings   json.RawMessage  `json:"settings"`
}

// exceptionJSON is the JSON representation of an exception.
type exceptionJSON struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

// allowlistedTrackerJSON is the JSON representation of the allow-list of a
// tracker.
type allowlistedTrackerJSON struct {
	Rules []*allowlistRuleJSON `json:"rules"`
}

// allowlistRuleJSON is the JSON representation of an allow-list entry.
type allowlistRuleJSON struct {
	Rule    string   `json:"rule"`
	Reason  string   `json:"reason"`
	Domains []string `json:"domains"`
}

// parser parses privacy-configuration documents.
type parser struct {
	logger *slog.Logger
}

// parse parses data into a snapshot.  Unknown settings keys are dropped with
// a warning.
func (p *parser) parse(
	ctx context.Context,
	etag string,
	data []byte,
	origin Origin,
) (s *Snapshot, err error) {
	if len(data) == 0 {
		return nil, &ParseError{Err: errors.ErrEmptyValue, Etag: etag}
	}

	conf := &configJSON{}
	err = json.Unmarshal(data, conf)
	if err != nil {
		return nil, &ParseError{Err: err, Etag: etag}
	}

	s = &Snapshot{
		features:        make(map[Feature]*FeatureState, len(conf.Features)),
		tempUnprotected: exceptionDomains(conf.UnprotectedTemporary),
		identifier:      identifier(etag, data),
		origin:          origin,
	}

	for name, fj := range conf.Features {
		if fj == nil {
			continue
		}

		var set Settings
		set, err = p.parseSettings(ctx, name, fj.Settings)
		if err != nil {
			return nil, &ParseError{
				Err:  fmt.Errorf("feature %q: settings: %w", name, err),
				Etag: etag,
			}
		}

		s.features[name] = &FeatureState{
			Settings:   set,
			Exceptions: exceptions(fj.Exceptions),
			Enabled:    fj.State == stateEnabled,
		}
	}

	return s, nil
}

// parseSettings parses the settings of the feature.
func (p *parser) parseSettings(
	ctx context.Context,
	name Feature,
	raw json.RawMessage,
) (set Settings, err error) {
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 && string(raw) != "null" {
		err = json.Unmarshal(raw, &fields)
		if err != nil {
			// Don't wrap the error since it's informative enough as is.
			return nil, err
		}
	}

	var known string
	switch name {
	case FeatureTrackerAllowlist:
		known = "allowlistedTrackers"
		set, err = parseAllowlist(fields[known])
	case FeatureClickToLoad:
		known = "entities"
		set, err = parseClickToLoad(fields[known])
	default:
		set = EmptySettings{}
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", known, err)
	}

	for _, key := range slices.Sorted(maps.Keys(fields)) {
		if key != known {
			p.logger.WarnContext(ctx, "dropping unknown setting", "feature", name, "key", key)
		}
	}

	return set, nil
}

// parseAllowlist parses the allow-list settings.
func parseAllowlist(raw json.RawMessage) (set *TrackerAllowlistSettings, err error) {
	set = &TrackerAllowlistSettings{}
	if len(raw) == 0 {
		return set, nil
	}

	trackers := map[string]*allowlistedTrackerJSON{}
	err = json.Unmarshal(raw, &trackers)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	for _, tracker := range slices.Sorted(maps.Keys(trackers)) {
		tj := trackers[tracker]
		if tj == nil {
			continue
		}

		for _, rj := range tj.Rules {
			if rj == nil || rj.Rule == "" {
				continue
			}

			set.Entries = append(set.Entries, newAllowListEntry(normalize(tracker), rj))
		}
	}

	return set, nil
}

// newAllowListEntry converts rj.
func newAllowListEntry(tracker string, rj *allowlistRuleJSON) (e *AllowListEntry) {
	e = &AllowListEntry{
		Tracker: tracker,
		Rule:    rj.Rule,
		Reason:  rj.Reason,
	}

	for _, d := range rj.Domains {
		if d == allDomainsMarker {
			e.AllDomains, e.Domains = true, nil

			return e
		}

		if d = normalize(d); d != "" {
			e.Domains = append(e.Domains, d)
		}
	}

	slices.Sort(e.Domains)
	e.Domains = slices.Compact(e.Domains)

	return e
}

// parseClickToLoad parses the click-to-load settings.
func parseClickToLoad(raw json.RawMessage) (set *ClickToLoadSettings, err error) {
	set = &ClickToLoadSettings{}
	if len(raw) == 0 {
		return set, nil
	}

	err = json.Unmarshal(raw, &set.Entities)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	slices.Sort(set.Entities)
	set.Entities = slices.Compact(set.Entities)

	return set, nil
}

// exceptions converts the exceptions and drops the ones without a domain.
func exceptions(ejs []*exceptionJSON) (excs []*Exception) {
	for _, ej := range ejs {
		if ej == nil {
			continue
		}

		if d := normalize(ej.Domain); d != "" {
			excs = append(excs, &Exception{Domain: d, Reason: ej.Reason})
		}
	}

	return excs
}

// exceptionDomains returns the domains of the exceptions.
func exceptionDomains(ejs []*exceptionJSON) (domains []string) {
	for _, e := range exceptions(ejs) {
		domains = append(domains, e.Domain)
	}

	return domains
}

// normalize returns the canonical form of a domain.
func normalize(domain string) (norm string) {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// identifier returns etag or, if it is empty, the hex-encoded SHA-256 of data.
func identifier(etag string, data []byte) (id string) {
	if etag != "" {
		return etag
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
