package attribution_test

import (
	"context"
	"testing"

	"github.com/AdguardTeam/TrackerShield/internal/attribution"
	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/cbtest"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAttributor returns an attributor using [cbtest.TrackerDataJSON].
func newTestAttributor(t *testing.T) (a *attribution.Attributor) {
	t.Helper()

	r, err := tds.NewRegistry(context.Background(), &tds.RegistryConfig{
		Logger:    slogutil.NewDiscardLogger(),
		Reporter:  cbevent.EmptyReporter{},
		Embedded:  cbtest.NewTrackerDataSource(),
		Name:      "tds",
		CacheSize: tds.DefaultCacheSize,
	})
	require.NoError(t, err)

	return attribution.New(r)
}

func TestAttributor_Attribute(t *testing.T) {
	t.Parallel()

	a := newTestAttributor(t)

	testCases := []struct {
		name       string
		reqURL     string
		pageURL    string
		wantHost   string
		wantEntity string
		wantKind   attribution.Kind
		wantNil    bool
		blocked    bool
	}{{
		name:       "blocked_tracker",
		reqURL:     "https://t.com/px.gif",
		pageURL:    "https://site.com",
		wantHost:   "t.com",
		wantEntity: "Co",
		wantKind:   attribution.KindTracker,
		wantNil:    false,
		blocked:    true,
	}, {
		name:       "tracker_subdomain",
		reqURL:     "https://static.ads.net/a.js",
		pageURL:    "https://site.com/page",
		wantHost:   "static.ads.net",
		wantEntity: "Ads",
		wantKind:   attribution.KindTracker,
		wantNil:    false,
		blocked:    false,
	}, {
		name:       "cname",
		reqURL:     "https://cdn.foo.com/x",
		pageURL:    "https://site.com",
		wantHost:   "cdn.foo.com",
		wantEntity: "Co",
		wantKind:   attribution.KindTracker,
		wantNil:    false,
		blocked:    true,
	}, {
		name:       "entity_without_tracker",
		reqURL:     "https://ads-cdn.net/lib.js",
		pageURL:    "https://site.com",
		wantHost:   "ads-cdn.net",
		wantEntity: "Ads",
		wantKind:   attribution.KindThirdParty,
		wantNil:    false,
		blocked:    false,
	}, {
		name:       "unknown_third_party",
		reqURL:     "https://cdn.example.org/lib.js",
		pageURL:    "https://site.com",
		wantHost:   "cdn.example.org",
		wantEntity: "",
		wantKind:   attribution.KindThirdParty,
		wantNil:    false,
		blocked:    false,
	}, {
		name:       "first_party_tracker",
		reqURL:     "https://static.ads.net/a.js",
		pageURL:    "https://www.ads.net",
		wantHost:   "static.ads.net",
		wantEntity: "Ads",
		wantKind:   attribution.KindTracker,
		wantNil:    false,
		blocked:    false,
	}, {
		name:    "same_entity",
		reqURL:  "https://ads-cdn.net/lib.js",
		pageURL: "https://www.ads.net",
		wantNil: true,
	}, {
		name:    "same_site",
		reqURL:  "https://img.example.org/a.png",
		pageURL: "https://www.example.org",
		wantNil: true,
	}, {
		name:    "first_party",
		reqURL:  "https://cdn.site.com/a.js",
		pageURL: "https://site.com",
		wantNil: true,
	}, {
		name:    "no_host",
		reqURL:  "data:text/plain,hello",
		pageURL: "https://site.com",
		wantNil: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := a.Attribute(tc.reqURL, tc.pageURL, tc.blocked)
			if tc.wantNil {
				assert.Nil(t, d)

				return
			}

			require.NotNil(t, d)

			assert.Equal(t, tc.wantHost, d.Host)
			assert.Equal(t, tc.wantEntity, d.EntityName())
			assert.Equal(t, tc.wantKind, d.Kind)
			assert.Equal(t, tc.blocked, d.Blocked)
			assert.Equal(t, tc.reqURL, d.URL)
			assert.Equal(t, tc.pageURL, d.PageURL)
		})
	}
}

func TestAttributor_Attribute_tracker(t *testing.T) {
	t.Parallel()

	a := newTestAttributor(t)

	d := a.Attribute("https://cdn.foo.com/x", "https://site.com", true)
	require.NotNil(t, d)
	require.NotNil(t, d.Tracker)

	assert.Equal(t, "cdn.foo.com", d.Tracker.Domain)
	assert.Equal(t, "Co", d.Tracker.Owner)
	assert.Equal(t, "foo.com", d.ETLDPlusOne)
	assert.Equal(t, attribution.Key{EntityName: "Co", Host: "cdn.foo.com"}, d.Key())
}

func TestPageReport(t *testing.T) {
	t.Parallel()

	a := newTestAttributor(t)
	const pageURL = "https://site.com"

	r := attribution.NewPageReport(pageURL)
	assert.Equal(t, pageURL, r.PageURL())

	assert.True(t, r.Add(a.Attribute("https://t.com/px.gif", pageURL, false)))
	assert.True(t, r.Add(a.Attribute("https://ads-cdn.net/lib.js", pageURL, false)))

	// The same entity and host.
	assert.False(t, r.Add(a.Attribute("https://t.com/other.gif", pageURL, true)))

	assert.True(t, r.Add(a.Attribute("https://cdn.example.org/lib.js", pageURL, false)))
	assert.False(t, r.Add(a.Attribute("https://cdn.site.com/a.js", pageURL, true)))
	assert.False(t, r.Add(nil))

	detected := r.Detected()
	require.Len(t, detected, 3)

	assert.Equal(t, "t.com", detected[0].Host)
	assert.True(t, detected[0].Blocked)
	assert.Equal(t, "ads-cdn.net", detected[1].Host)
	assert.Equal(t, "cdn.example.org", detected[2].Host)

	blocked, allowed := r.Counts()
	assert.Equal(t, 1, blocked)
	assert.Equal(t, 2, allowed)

	assert.Equal(t, []string{"Ads", "Co"}, r.Entities())
	assert.Equal(t, []string{"Co"}, r.BlockedEntities())
}

func TestPageReport_concurrent(t *testing.T) {
	t.Parallel()

	a := newTestAttributor(t)
	const pageURL = "https://site.com"

	r := attribution.NewPageReport(pageURL)

	const n = 10
	added := make(chan bool, n)
	for range n {
		go func() {
			added <- r.Add(a.Attribute("https://t.com/px.gif", pageURL, true))
		}()
	}

	var numAdded int
	for range n {
		if <-added {
			numAdded++
		}
	}

	assert.Equal(t, 1, numAdded)
	assert.Len(t, r.Detected(), 1)
}
