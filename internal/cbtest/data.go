package cbtest

import (
	"github.com/AdguardTeam/TrackerShield/internal/tds"
)

// TrackerDataJSON is a small tracker-data document used in tests.  Its
// trackers are:
//
//   - "t.com", blocked by default, owned by "Co";
//   - "ads.net", blocked by default, owned by "Ads Inc", with path rules;
//   - "ignored.org", ignored by default, without an owner, with a block rule.
//
// "cdn.foo.com" is a CNAME of "t.com".  "site.com" is owned by "Site LLC".
const TrackerDataJSON = `{
  "trackers": {
    "t.com": {
      "domain": "t.com",
      "defaultAction": "block",
      "owner": "Co",
      "categories": ["Analytics"]
    },
    "ads.net": {
      "domain": "ads.net",
      "default": "block",
      "owner": {"name": "Ads Inc", "displayName": "Ads"},
      "prevalence": 0.5,
      "rules": [
        {
          "rule": "ads\\.net/widget\\.js",
          "surrogate": "widget.js"
        },
        {
          "rule": "ads\\.net/login",
          "action": "ignore"
        },
        {
          "rule": "ads\\.net/px",
          "exceptions": {"domains": ["partner.com"]}
        }
      ]
    },
    "ignored.org": {
      "domain": "ignored.org",
      "default": "ignore",
      "rules": [
        {
          "rule": "ignored\\.org/track",
          "options": {"domains": ["news.com"]}
        }
      ]
    }
  },
  "entities": {
    "Co": {"domains": ["t.com"], "prevalence": 1},
    "Ads Inc": {"displayName": "Ads", "domains": ["ads.net", "ads-cdn.net"]},
    "Site LLC": {"displayName": "Site", "domains": ["site.com"]}
  },
  "domains": {
    "t.com": "Co",
    "ads.net": "Ads Inc",
    "ads-cdn.net": "Ads Inc",
    "site.com": "Site LLC"
  },
  "cnames": {
    "cdn.foo.com": "t.com"
  }
}`

// TrackerDataEtag is the etag of [TrackerDataJSON].
const TrackerDataEtag = "etag-1"

// NewTrackerDataSource returns a new source with [TrackerDataJSON].
func NewTrackerDataSource() (src *tds.Source) {
	return &tds.Source{
		Etag: TrackerDataEtag,
		Data: []byte(TrackerDataJSON),
	}
}
