package rulestore

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
	"golang.org/x/net/publicsuffix"
)

// ResourceTypeRaw is the resource type of requests without a more specific
// type.
const ResourceTypeRaw = "raw"

// Request is a request checked by a [*Matcher].
type Request struct {
	// URL is the URL of the request.
	URL string

	// PageURL is the URL of the top-level page.  If it is empty, the request
	// is a first-party one.
	PageURL string

	// ResourceType is the type of the requested resource.  An empty type is
	// [ResourceTypeRaw].
	ResourceType string
}

// Result is the result of matching a request.
type Result struct {
	// Rule is the last matching rule.  It is nil if no rule matched.
	Rule *rulecompiler.Rule

	// Surrogate is the name of the script to serve instead of the blocked
	// resource, if any.
	Surrogate string

	// Blocked is true if the request must be blocked.
	Blocked bool
}

// compiledRule is a rule prepared for matching.
type compiledRule struct {
	rule       *rulecompiler.Rule
	re         *regexp.Regexp
	thirdParty bool
	firstParty bool
}

// Matcher is a [CompiledList] that executes content-blocker rules: rules are
// evaluated in order, and a matching ignore rule cancels the effect of the
// previous matching rules.  It is safe for concurrent use.
type Matcher struct {
	id    string
	rules []*compiledRule
}

// type check
var _ CompiledList = (*Matcher)(nil)

// newMatcher returns a new matcher for rules.
func newMatcher(id string, rules []*rulecompiler.Rule) (m *Matcher, err error) {
	m = &Matcher{
		id:    id,
		rules: make([]*compiledRule, 0, len(rules)),
	}

	for i, r := range rules {
		var re *regexp.Regexp
		re, err = regexp.Compile("(?i)" + r.Trigger.URLFilter)
		if err != nil {
			return nil, fmt.Errorf("rule at index %d: url filter: %w", i, err)
		}

		cr := &compiledRule{
			rule:       r,
			re:         re,
			thirdParty: len(r.Trigger.LoadType) == 0,
			firstParty: len(r.Trigger.LoadType) == 0,
		}

		for _, lt := range r.Trigger.LoadType {
			switch lt {
			case rulecompiler.LoadTypeThirdParty:
				cr.thirdParty = true
			case rulecompiler.LoadTypeFirstParty:
				cr.firstParty = true
			default:
				return nil, fmt.Errorf("rule at index %d: unknown load type %q", i, lt)
			}
		}

		m.rules = append(m.rules, cr)
	}

	return m, nil
}

// Identifier implements the [CompiledList] interface for *Matcher.
func (m *Matcher) Identifier() (id string) {
	return m.id
}

// Close implements the [CompiledList] interface for *Matcher.
func (m *Matcher) Close() (err error) {
	return nil
}

// Len returns the number of rules.
func (m *Matcher) Len() (n int) {
	return len(m.rules)
}

// Match returns the result of checking req against the rules.  res is never
// nil.
func (m *Matcher) Match(req *Request) (res *Result) {
	res = &Result{}

	reqHost := hostname(req.URL)
	pageHost := hostname(req.PageURL)
	thirdParty := pageHost != "" && etldPlusOne(reqHost) != etldPlusOne(pageHost)

	resType := req.ResourceType
	if resType == "" {
		resType = ResourceTypeRaw
	}

	for _, cr := range m.rules {
		if !cr.matches(req.URL, pageHost, resType, thirdParty) {
			continue
		}

		res.Rule = cr.rule
		if cr.rule.Action.Type == rulecompiler.ActionTypeIgnorePreviousRules {
			res.Blocked, res.Surrogate = false, ""
		} else {
			res.Blocked, res.Surrogate = true, cr.rule.Action.Surrogate
		}
	}

	return res
}

// matches returns true if the trigger of cr matches the request.
func (cr *compiledRule) matches(rawURL, pageHost, resType string, thirdParty bool) (ok bool) {
	if (thirdParty && !cr.thirdParty) || (!thirdParty && !cr.firstParty) {
		return false
	}

	t := cr.rule.Trigger
	if len(t.ResourceType) > 0 && !slices.Contains(t.ResourceType, resType) {
		return false
	}

	if len(t.IfDomain) > 0 && !matchesAnyDomain(pageHost, t.IfDomain) {
		return false
	}

	if len(t.UnlessDomain) > 0 && matchesAnyDomain(pageHost, t.UnlessDomain) {
		return false
	}

	return cr.re.MatchString(rawURL)
}

// matchesAnyDomain returns true if host matches any of the rule domains.  A
// domain with the "*" prefix also matches its subdomains.
func matchesAnyDomain(host string, domains []string) (ok bool) {
	if host == "" {
		return false
	}

	for _, d := range domains {
		if wc, isWildcard := strings.CutPrefix(d, "*"); isWildcard {
			if host == wc || strings.HasSuffix(host, "."+wc) {
				return true
			}
		} else if host == d {
			return true
		}
	}

	return false
}

// hostname returns the lowercase host of rawURL or an empty string.
func hostname(rawURL string) (host string) {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Hostname())
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
