package tds_test

import (
	"context"
	"strings"
	"testing"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/cbtest"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// newTestRegistry returns a registry with [cbtest.TrackerDataJSON] as the
// embedded dataset and the recorder of its events.
func newTestRegistry(t *testing.T) (r *tds.Registry, rec *cbtest.EventRecorder) {
	t.Helper()

	rec = cbtest.NewEventRecorder()
	r, err := tds.NewRegistry(context.Background(), &tds.RegistryConfig{
		Logger:    testLogger,
		Reporter:  rec,
		Embedded:  cbtest.NewTrackerDataSource(),
		Name:      "tds",
		CacheSize: tds.DefaultCacheSize,
	})
	require.NoError(t, err)

	return r, rec
}

func TestDomainVariants(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		host string
		want []string
	}{{
		name: "deep",
		host: "a.b.c.com",
		want: []string{"a.b.c.com", "b.c.com", "c.com"},
	}, {
		name: "two_labels",
		host: "example.com",
		want: []string{"example.com"},
	}, {
		name: "single_label",
		host: "localhost",
		want: nil,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, tds.DomainVariants(tc.host))
		})
	}
}

func TestRegistry_FindEntity(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)

	testCases := []struct {
		name     string
		host     string
		wantName string
	}{{
		name:     "exact",
		host:     "site.com",
		wantName: "Site LLC",
	}, {
		name:     "subdomain",
		host:     "x.y.site.com",
		wantName: "Site LLC",
	}, {
		name:     "uppercase_fqdn",
		host:     "WWW.ADS.NET.",
		wantName: "Ads Inc",
	}, {
		name:     "cname",
		host:     "cdn.foo.com",
		wantName: "Co",
	}, {
		name:     "unknown",
		host:     "unknown.example",
		wantName: "",
	}, {
		name:     "empty",
		host:     "",
		wantName: "",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := r.FindEntity(tc.host)
			if tc.wantName == "" {
				assert.Nil(t, e)

				return
			}

			require.NotNil(t, e)
			assert.Equal(t, tc.wantName, e.Name)
		})
	}
}

func TestRegistry_FindTracker(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)

	t.Run("subdomain", func(t *testing.T) {
		t.Parallel()

		tr := r.FindTracker("pixel.t.com")
		require.NotNil(t, tr)

		assert.Equal(t, "t.com", tr.Domain)
		assert.Equal(t, "Co", tr.Owner)
		assert.Equal(t, tds.ActionBlock, tr.DefaultAction)
	})

	t.Run("cname", func(t *testing.T) {
		t.Parallel()

		tr := r.Current().FindTrackerByURL("https://cdn.foo.com/x")
		require.NotNil(t, tr)

		assert.Equal(t, "cdn.foo.com", tr.Domain)
		assert.Equal(t, "Co", tr.Owner)

		// The canonical record must be intact.
		canonical := r.FindTracker("t.com")
		require.NotNil(t, canonical)

		assert.Equal(t, "t.com", canonical.Domain)
	})

	t.Run("owner_object", func(t *testing.T) {
		t.Parallel()

		tr := r.FindTracker("ads.net")
		require.NotNil(t, tr)

		assert.Equal(t, "Ads Inc", tr.Owner)
		require.Len(t, tr.Rules, 3)

		assert.Equal(t, "widget.js", tr.Rules[0].Surrogate)
		assert.Equal(t, tds.ActionIgnore, tr.Rules[1].Action)
		require.NotNil(t, tr.Rules[2].Exceptions)

		assert.Equal(t, []string{"partner.com"}, tr.Rules[2].Exceptions.Domains)

		e := r.EntityByName(tr.Owner)
		require.NotNil(t, e)

		assert.Equal(t, "Ads", e.DisplayName)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		assert.Nil(t, r.FindTracker("site.com"))
		assert.Nil(t, r.Current().FindTrackerByURL("::bad url"))
	})
}

func TestRegistry_Load(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("corrupted", func(t *testing.T) {
		t.Parallel()

		r, rec := newTestRegistry(t)
		before := r.Current()

		err := r.Load(ctx, &tds.Source{Etag: "bad", Data: []byte(`{"trackers": [`)})

		decErr := &tds.DecodeError{}
		require.ErrorAs(t, err, &decErr)

		assert.Equal(t, "bad", decErr.Etag)
		assert.Same(t, before, r.Current())
		assert.Equal(t, 1, rec.Count(cbevent.KindDatasetDecode))

		tr := r.FindTracker("t.com")
		require.NotNil(t, tr)
	})

	t.Run("downloaded", func(t *testing.T) {
		t.Parallel()

		r, _ := newTestRegistry(t)

		err := r.Load(ctx, &tds.Source{
			Etag: "etag-2",
			Data: []byte(`{"trackers": {"new.com": {"default": "block"}}}`),
		})
		require.NoError(t, err)

		ds := r.Current()
		assert.Equal(t, "etag-2", ds.Etag())
		assert.Equal(t, tds.OriginDownloaded, ds.Origin())
		assert.Equal(t, 1, ds.Len())
		assert.Nil(t, r.FindTracker("t.com"))
		assert.NotNil(t, r.FindTracker("new.com"))

		err = r.Load(ctx, nil)
		require.NoError(t, err)

		assert.Equal(t, tds.OriginEmbedded, r.Current().Origin())
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		r, rec := newTestRegistry(t)

		const doc = `{
  "trackers": {
    "a.com": {"default": "block", "owner": "Nobody"},
    "b.com": {"default": "sometimes"},
    "c.com": {"default": "block", "rules": [{"rule": "c\\.com/(", "action": "block"}]}
  },
  "entities": {"A": {"domains": ["a.com"]}},
  "domains": {"a.com": "A", "unrelated.com": "A", "x.com": "Nobody"},
  "cnames": {"cloak.com": "nowhere.com"}
}`

		err := r.Load(ctx, &tds.Source{Etag: "etag-3", Data: []byte(doc)})
		require.NoError(t, err)

		// Unknown owner, bad default action, bad rule regexp, unrelated
		// domain, unknown entity in domains, dangling CNAME.
		assert.Equal(t, 6, rec.Count(cbevent.KindTrackerDataValidation))

		wantPrefixes := []string{
			`tracker "a.com"`,
			`tracker "b.com"`,
			`tracker "c.com"`,
			`domain "unrelated.com"`,
			`domain "x.com"`,
			`cname "cloak.com"`,
		}

		var msgs []string
		for _, e := range rec.Events() {
			if e.Kind == cbevent.KindTrackerDataValidation {
				msgs = append(msgs, e.Err.Error())
			}
		}

		require.Len(t, msgs, len(wantPrefixes))

		for i, want := range wantPrefixes {
			assert.Truef(t, strings.HasPrefix(msgs[i], want), "issue at index %d: %q", i, msgs[i])
		}

		a := r.FindTracker("a.com")
		require.NotNil(t, a)

		assert.Empty(t, a.Owner)
		assert.Nil(t, r.FindTracker("b.com"))

		c := r.FindTracker("c.com")
		require.NotNil(t, c)

		assert.Empty(t, c.Rules)
		assert.Nil(t, r.FindEntity("unrelated.com"))
		assert.Nil(t, r.FindTracker("cloak.com"))
	})
}

func TestNewRegistry_noEmbedded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conf := &tds.RegistryConfig{
		Logger:   testLogger,
		Reporter: cbevent.EmptyReporter{},
		Name:     "tds",
	}

	_, err := tds.NewRegistry(ctx, conf)
	require.ErrorIs(t, err, tds.ErrNoEmbeddedData)

	conf.Embedded = &tds.Source{Etag: "bad", Data: []byte("not json")}
	_, err = tds.NewRegistry(ctx, conf)
	require.ErrorIs(t, err, tds.ErrNoEmbeddedData)

	decErr := &tds.DecodeError{}
	assert.ErrorAs(t, err, &decErr)
}

func TestDataSet_Split(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	ds := r.Current()

	rest, only := ds.Split([]string{"Ads Inc"})

	assert.Equal(t, 2, rest.Len())
	assert.Equal(t, 1, only.Len())
	assert.Nil(t, rest.FindTracker("ads.net"))
	assert.NotNil(t, only.FindTracker("ads.net"))
	assert.NotEqual(t, rest.Etag(), only.Etag())
	assert.NotEqual(t, ds.Etag(), rest.Etag())

	// Entities stay available in both parts.
	assert.NotNil(t, only.EntityByName("Co"))
}
