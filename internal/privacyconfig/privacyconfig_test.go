package privacyconfig_test

import (
	"context"
	"testing"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/cbtest"
	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// embeddedConfig is the embedded configuration used in tests.
const embeddedConfig = `{
  "features": {
    "contentBlocking": {
      "state": "enabled",
      "exceptions": [
        {"domain": "Broken.COM", "reason": "site breakage"},
        {"domain": ""}
      ],
      "settings": {"unknownKey": true}
    },
    "trackerAllowlist": {
      "state": "enabled",
      "settings": {
        "allowlistedTrackers": {
          "z.net": {"rules": [{"rule": "z.net/a.js", "domains": ["<all>"]}]},
          "ads.net": {
            "rules": [
              {
                "rule": "ads.net/widget.js",
                "domains": ["shop.com", "blog.com", "shop.com"],
                "reason": "widget"
              }
            ]
          }
        }
      }
    },
    "clickToLoad": {
      "state": "disabled",
      "settings": {"entities": ["Ads Inc"]}
    }
  },
  "unprotectedTemporary": [{"domain": "temp.com", "reason": "testing"}]
}`

// newTestManager returns a new manager with embeddedConfig and the recorder of
// its events.
func newTestManager(t *testing.T) (m *privacyconfig.Manager, rec *cbtest.EventRecorder) {
	t.Helper()

	rec = cbtest.NewEventRecorder()
	m, err := privacyconfig.NewManager(context.Background(), &privacyconfig.ManagerConfig{
		Logger:       testLogger,
		Reporter:     rec,
		EmbeddedEtag: "embedded-1",
		Embedded:     []byte(embeddedConfig),
	})
	require.NoError(t, err)

	return m, rec
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	s := m.Current()

	assert.Equal(t, "embedded-1", s.Identifier())
	assert.Equal(t, privacyconfig.OriginEmbedded, s.Origin())

	assert.True(t, s.IsEnabled(privacyconfig.FeatureContentBlocking))
	assert.False(t, s.IsEnabled(privacyconfig.FeatureClickToLoad))
	assert.False(t, s.IsEnabled("missingFeature"))

	assert.Equal(t, []string{"broken.com"}, s.Exceptions(privacyconfig.FeatureContentBlocking))
	assert.Nil(t, s.Exceptions("missingFeature"))
	assert.Equal(t, []string{"temp.com"}, s.TempUnprotectedDomains())
	assert.Nil(t, s.ClickToLoadEntities())

	fs := s.Feature(privacyconfig.FeatureContentBlocking)
	require.NotNil(t, fs)

	assert.Equal(t, privacyconfig.EmptySettings{}, fs.Settings)

	entries := s.AllowList()
	require.Len(t, entries, 2)

	assert.Equal(t, &privacyconfig.AllowListEntry{
		Tracker: "ads.net",
		Rule:    "ads.net/widget.js",
		Reason:  "widget",
		Domains: []string{"blog.com", "shop.com"},
	}, entries[0])
	assert.Equal(t, &privacyconfig.AllowListEntry{
		Tracker:    "z.net",
		Rule:       "z.net/a.js",
		AllDomains: true,
	}, entries[1])
}

func TestManager_Reload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("downloaded", func(t *testing.T) {
		t.Parallel()

		m, _ := newTestManager(t)

		data := []byte(`{"features": {"clickToLoad": {
  "state": "enabled",
  "settings": {"entities": ["B", "A"]}
}}}`)
		o := m.Reload(ctx, "", data)
		require.Equal(t, privacyconfig.OriginDownloaded, o)

		s := m.Current()
		assert.Equal(t, []string{"A", "B"}, s.ClickToLoadEntities())
		assert.Len(t, s.Identifier(), 64)
		assert.False(t, s.IsEnabled(privacyconfig.FeatureContentBlocking))
	})

	t.Run("parse_error_embedded", func(t *testing.T) {
		t.Parallel()

		m, rec := newTestManager(t)
		before := m.Current()

		o := m.Reload(ctx, "bad", []byte(`{"features": `))
		assert.Equal(t, privacyconfig.OriginEmbeddedFallback, o)
		assert.Same(t, before, m.Current())
		assert.Equal(t, 1, rec.Count(cbevent.KindConfigParse))
	})

	t.Run("parse_error_downloaded", func(t *testing.T) {
		t.Parallel()

		m, rec := newTestManager(t)

		o := m.Reload(ctx, "good", []byte(`{}`))
		require.Equal(t, privacyconfig.OriginDownloaded, o)

		bad := []byte(`{"features": {"trackerAllowlist": {"settings": {"allowlistedTrackers": 1}}}}`)
		o = m.Reload(ctx, "bad", bad)
		assert.Equal(t, privacyconfig.OriginDownloaded, o)
		assert.Equal(t, "good", m.Current().Identifier())
		assert.Equal(t, 1, rec.Count(cbevent.KindConfigParse))
	})

	t.Run("embedded", func(t *testing.T) {
		t.Parallel()

		m, _ := newTestManager(t)

		o := m.Reload(ctx, "x", []byte(`{}`))
		require.Equal(t, privacyconfig.OriginDownloaded, o)

		o = m.Reload(ctx, "", nil)
		assert.Equal(t, privacyconfig.OriginEmbedded, o)
		assert.Equal(t, "embedded-1", m.Current().Identifier())
	})
}

func TestNewManager_badEmbedded(t *testing.T) {
	t.Parallel()

	_, err := privacyconfig.NewManager(context.Background(), &privacyconfig.ManagerConfig{
		Logger:   testLogger,
		Reporter: cbevent.EmptyReporter{},
		Embedded: []byte("{"),
	})

	parseErr := &privacyconfig.ParseError{}
	assert.ErrorAs(t, err, &parseErr)
}
