package rulecompiler_test

import (
	"testing"

	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartIdentifier(t *testing.T) {
	t.Parallel()

	in := &rulecompiler.Input{
		Exceptions:      []string{"b.com"},
		TempUnprotected: []string{"A.com."},
		AllowList: []*privacyconfig.AllowListEntry{{
			Tracker:    "ads.net",
			Rule:       "ads.net/a.js",
			AllDomains: true,
		}},
	}

	tempID := rulecompiler.PartIdentifier(in, rulecompiler.PartTempList)
	require.NotEmpty(t, tempID)

	assert.NotEmpty(t, rulecompiler.PartIdentifier(in, rulecompiler.PartAllowList))
	assert.Empty(t, rulecompiler.PartIdentifier(in, rulecompiler.PartUnprotected))

	reordered := &rulecompiler.Input{
		Exceptions:      []string{"a.com"},
		TempUnprotected: []string{"b.com"},
	}
	assert.Equal(t, tempID, rulecompiler.PartIdentifier(reordered, rulecompiler.PartTempList))

	// The parts of the same domains differ.
	user := &rulecompiler.Input{UserUnprotected: []string{"a.com", "b.com"}}
	assert.NotEqual(t, tempID, rulecompiler.PartIdentifier(user, rulecompiler.PartUnprotected))

	assert.Panics(t, func() {
		_ = rulecompiler.PartIdentifier(in, rulecompiler.Part("bad"))
	})
}

func TestWithoutPart(t *testing.T) {
	t.Parallel()

	in := &rulecompiler.Input{
		Exceptions:      []string{"a.com"},
		TempUnprotected: []string{"b.com"},
		UserUnprotected: []string{"c.com"},
		AllowList: []*privacyconfig.AllowListEntry{{
			Tracker: "ads.net",
			Rule:    "ads.net/a.js",
			Domains: []string{"site.com"},
		}},
	}

	for _, p := range rulecompiler.Parts {
		res := rulecompiler.WithoutPart(in, p)
		require.NotSame(t, in, res)

		assert.Empty(t, rulecompiler.PartIdentifier(res, p), p)
		for _, other := range rulecompiler.Parts {
			if other != p {
				assert.Equal(
					t,
					rulecompiler.PartIdentifier(in, other),
					rulecompiler.PartIdentifier(res, other),
					other,
				)
			}
		}
	}

	assert.Len(t, in.Exceptions, 1)
	assert.Len(t, in.AllowList, 1)
	assert.Len(t, in.UserUnprotected, 1)
}
