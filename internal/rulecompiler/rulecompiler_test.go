package rulecompiler_test

import (
	"context"
	"strings"
	"testing"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/cbtest"
	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
	"github.com/AdguardTeam/TrackerShield/internal/rulestore"
	"github.com/AdguardTeam/TrackerShield/internal/surrogate"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// newTestData returns the data set of [cbtest.TrackerDataJSON].
func newTestData(t *testing.T) (ds *tds.DataSet) {
	t.Helper()

	r, err := tds.NewRegistry(context.Background(), &tds.RegistryConfig{
		Logger:   testLogger,
		Reporter: cbevent.EmptyReporter{},
		Embedded: cbtest.NewTrackerDataSource(),
		Name:     "tds",
	})
	require.NoError(t, err)

	return r.Current()
}

// newTestSurrogates returns a set with the "widget.js" surrogate.
func newTestSurrogates(t *testing.T) (s *surrogate.Set) {
	t.Helper()

	const text = "ads.net/widget.js application/javascript\n(() => {})();\n"

	s, err := surrogate.Parse(strings.NewReader(text))
	require.NoError(t, err)

	return s
}

// compileMatcher compiles in and returns the reference matcher for the result.
func compileMatcher(t *testing.T, in *rulecompiler.Input) (m *rulestore.Matcher) {
	t.Helper()

	ctx := context.Background()
	c := rulecompiler.New(&rulecompiler.Config{Logger: testLogger})
	rs := c.Compile(ctx, in)

	encoded, err := rs.Encode()
	require.NoError(t, err)

	s, err := rulestore.NewFileStore(&rulestore.FileStoreConfig{
		Logger:      testLogger,
		Dir:         t.TempDir(),
		MaxListSize: rulestore.DefaultMaxListSize,
	})
	require.NoError(t, err)

	l, err := s.Compile(ctx, rs.Identifier, encoded)
	require.NoError(t, err)

	m, ok := l.(*rulestore.Matcher)
	require.True(t, ok)

	return m
}

func TestCompiler_Compile_blocking(t *testing.T) {
	t.Parallel()

	m := compileMatcher(t, &rulecompiler.Input{
		TrackerData: newTestData(t),
		Surrogates:  newTestSurrogates(t),
	})

	testCases := []struct {
		name          string
		url           string
		page          string
		resType       string
		wantSurrogate string
		wantBlocked   bool
	}{{
		name:        "default_block",
		url:         "https://t.com/px.gif",
		page:        "https://site.com/",
		wantBlocked: true,
	}, {
		name:        "default_block_subdomain",
		url:         "https://sub.t.com/px.gif",
		page:        "https://site.com/",
		wantBlocked: true,
	}, {
		name:        "first_party",
		url:         "https://t.com/px.gif",
		page:        "https://www.t.com/",
		wantBlocked: false,
	}, {
		name:          "surrogate",
		url:           "https://ads.net/widget.js",
		page:          "https://site.com/",
		wantSurrogate: "widget.js",
		wantBlocked:   true,
	}, {
		name:        "rule_ignore",
		url:         "https://ads.net/login",
		page:        "https://site.com/",
		wantBlocked: false,
	}, {
		name:        "owner_domain",
		url:         "https://ads.net/px",
		page:        "https://ads-cdn.net/",
		wantBlocked: false,
	}, {
		name:        "rule_exception",
		url:         "https://ads.net/px",
		page:        "https://partner.com/",
		wantBlocked: false,
	}, {
		name:        "rule_without_exception",
		url:         "https://ads.net/px",
		page:        "https://other.com/",
		wantBlocked: true,
	}, {
		name:        "default_ignore",
		url:         "https://ignored.org/x.js",
		page:        "https://news.com/",
		wantBlocked: false,
	}, {
		name:        "default_ignore_rule_on_domain",
		url:         "https://ignored.org/track",
		page:        "https://news.com/",
		wantBlocked: true,
	}, {
		name:        "default_ignore_rule_other_domain",
		url:         "https://ignored.org/track",
		page:        "https://other.com/",
		wantBlocked: false,
	}, {
		name:        "not_tracker",
		url:         "https://example.com/a.js",
		page:        "https://site.com/",
		wantBlocked: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := m.Match(&rulestore.Request{
				URL:          tc.url,
				PageURL:      tc.page,
				ResourceType: tc.resType,
			})

			assert.Equal(t, tc.wantBlocked, res.Blocked)
			assert.Equal(t, tc.wantSurrogate, res.Surrogate)
		})
	}
}

func TestCompiler_Compile_exceptions(t *testing.T) {
	t.Parallel()

	data := newTestData(t)

	testCases := []struct {
		in   *rulecompiler.Input
		name string
	}{{
		in:   &rulecompiler.Input{TrackerData: data, TempUnprotected: []string{"t.com"}},
		name: "temp_unprotected_request",
	}, {
		in:   &rulecompiler.Input{TrackerData: data, TempUnprotected: []string{"site.com"}},
		name: "temp_unprotected_page",
	}, {
		in:   &rulecompiler.Input{TrackerData: data, Exceptions: []string{"Site.com."}},
		name: "feature_exception",
	}, {
		in:   &rulecompiler.Input{TrackerData: data, UserUnprotected: []string{"site.com"}},
		name: "user_unprotected",
	}, {
		in: &rulecompiler.Input{
			TrackerData: data,
			AllowList: []*privacyconfig.AllowListEntry{{
				Tracker:    "t.com",
				Rule:       "t.com/px.gif",
				AllDomains: true,
			}},
		},
		name: "allowlist_all",
	}, {
		in: &rulecompiler.Input{
			TrackerData: data,
			AllowList: []*privacyconfig.AllowListEntry{{
				Tracker: "t.com",
				Rule:    "t.com/px.gif",
				Domains: []string{"site.com"},
			}},
		},
		name: "allowlist_domain",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := compileMatcher(t, tc.in)
			res := m.Match(&rulestore.Request{
				URL:     "https://t.com/px.gif",
				PageURL: "https://www.site.com/",
			})

			assert.False(t, res.Blocked)
		})
	}

	t.Run("allowlist_other_domain", func(t *testing.T) {
		t.Parallel()

		m := compileMatcher(t, &rulecompiler.Input{
			TrackerData: data,
			AllowList: []*privacyconfig.AllowListEntry{{
				Tracker: "t.com",
				Rule:    "t.com/px.gif",
				Domains: []string{"other.com"},
			}},
		})

		res := m.Match(&rulestore.Request{
			URL:     "https://t.com/px.gif",
			PageURL: "https://site.com/",
		})

		assert.True(t, res.Blocked)
	})
}

func TestCompiler_Compile_deterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := rulecompiler.New(&rulecompiler.Config{Logger: testLogger})
	data := newTestData(t)
	allow := []*privacyconfig.AllowListEntry{{
		Tracker: "ads.net",
		Rule:    "ads.net/a.js",
		Domains: []string{"a.com"},
	}, {
		Tracker:    "t.com",
		Rule:       "t.com/b.js",
		AllDomains: true,
	}}

	first := c.Compile(ctx, &rulecompiler.Input{
		TrackerData:     data,
		Exceptions:      []string{"b.com", "a.com"},
		TempUnprotected: []string{"c.com", "a.com"},
		UserUnprotected: []string{"d.com"},
		AllowList:       allow,
	})

	second := c.Compile(ctx, &rulecompiler.Input{
		TrackerData:     data,
		Exceptions:      []string{"a.com"},
		TempUnprotected: []string{"d.com", "c.com", "b.com"},
		UserUnprotected: []string{"a.com"},
		AllowList:       []*privacyconfig.AllowListEntry{allow[1], allow[0]},
	})

	firstData, err := first.Encode()
	require.NoError(t, err)

	secondData, err := second.Encode()
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(string(firstData), string(secondData)))
	assert.Equal(t, first.Identifier, second.Identifier)
	assert.True(t, strings.HasPrefix(first.Identifier, cbtest.TrackerDataEtag+"-"))

	third := c.Compile(ctx, &rulecompiler.Input{TrackerData: data})
	assert.NotEqual(t, first.Identifier, third.Identifier)
}

func TestCompiler_Compile_allowListOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := rulecompiler.New(&rulecompiler.Config{Logger: testLogger})
	data := newTestData(t)

	a := &privacyconfig.AllowListEntry{
		Tracker:    "ads.net",
		Rule:       "ads.net/a.js",
		AllDomains: true,
	}
	b := &privacyconfig.AllowListEntry{
		Tracker: "ads.net",
		Rule:    "ads.net/b.js",
		Domains: []string{"site.com"},
	}

	ab := []*privacyconfig.AllowListEntry{a, b}
	ba := []*privacyconfig.AllowListEntry{b, a}

	first := c.Compile(ctx, &rulecompiler.Input{TrackerData: data, AllowList: ab})
	second := c.Compile(ctx, &rulecompiler.Input{TrackerData: data, AllowList: ba})

	firstData, err := first.Encode()
	require.NoError(t, err)

	secondData, err := second.Encode()
	require.NoError(t, err)

	assert.Equal(t, first.Identifier, second.Identifier)
	assert.Empty(t, cmp.Diff(string(firstData), string(secondData)))

	// The input must not be reordered.
	assert.Same(t, b, ba[0])
}

func TestCompiler_Compile_dedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := rulecompiler.New(&rulecompiler.Config{Logger: testLogger})

	const doc = `{
  "trackers": {
    "dup.com": {
      "default": "block",
      "rules": [
        {"rule": "dup\\.com/a", "surrogate": "first.js"},
        {"rule": "dup\\.com/a", "surrogate": "second.js"}
      ]
    }
  }
}`

	r, err := tds.NewRegistry(ctx, &tds.RegistryConfig{
		Logger:   testLogger,
		Reporter: cbevent.EmptyReporter{},
		Embedded: &tds.Source{Etag: "dup", Data: []byte(doc)},
		Name:     "tds",
	})
	require.NoError(t, err)

	s, err := surrogate.Parse(strings.NewReader(
		"dup.com/first.js application/javascript\nfirst\n\n" +
			"dup.com/second.js application/javascript\nsecond\n",
	))
	require.NoError(t, err)

	rs := c.Compile(ctx, &rulecompiler.Input{
		TrackerData:     r.Current(),
		Surrogates:      s,
		TempUnprotected: []string{"dup.com"},
		UserUnprotected: []string{"dup.com"},
	})

	var blocks, ignores int
	var surrogates []string
	for _, rule := range rs.Rules {
		if rule.Action.Type == rulecompiler.ActionTypeBlock {
			blocks++
			surrogates = append(surrogates, rule.Action.Surrogate)
		} else {
			ignores++
		}
	}

	// The default block rule and the first of the two identical rule blocks,
	// which is the second one in the document because of the reverse order.
	assert.Equal(t, 2, blocks)
	assert.Equal(t, []string{"", "second.js"}, surrogates)

	// The page and the request rules for the exception domain, which is
	// listed twice.
	assert.Equal(t, 2, ignores)

	host, ok := rulecompiler.HostFromFilter(rs.Rules[0].Trigger.URLFilter)
	require.True(t, ok)

	assert.Equal(t, "dup.com", host)
}

func TestRuleSet_Encode_errors(t *testing.T) {
	t.Parallel()

	rs := &rulecompiler.RuleSet{
		Identifier: "id",
		Rules: []*rulecompiler.Rule{{
			Trigger: &rulecompiler.Trigger{URLFilter: "пример"},
			Action:  &rulecompiler.Action{Type: rulecompiler.ActionTypeBlock},
		}},
	}

	_, err := rs.Encode()

	encErr := &rulecompiler.EncodeError{}
	require.ErrorAs(t, err, &encErr)

	assert.Equal(t, "id", encErr.Identifier)
	assert.ErrorIs(t, err, rulecompiler.ErrNonASCIIFilter)

	rs.Rules = make([]*rulecompiler.Rule, rulecompiler.MaxRules+1)
	for i := range rs.Rules {
		rs.Rules[i] = &rulecompiler.Rule{
			Trigger: &rulecompiler.Trigger{URLFilter: ".*"},
			Action:  &rulecompiler.Action{Type: rulecompiler.ActionTypeBlock},
		}
	}

	_, err = rs.Encode()
	assert.ErrorIs(t, err, rulecompiler.ErrTooManyRules)
}

func TestHostFromFilter(t *testing.T) {
	t.Parallel()

	_, ok := rulecompiler.HostFromFilter(".*")
	assert.False(t, ok)

	_, ok = rulecompiler.HostFromFilter(`^(https?)?(wss?)?://([a-z0-9-]+\.)*ads\.net/px`)
	assert.False(t, ok)
}
