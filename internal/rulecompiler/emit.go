package rulecompiler

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/TrackerShield/internal/surrogate"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
)

// hostPrefix is the beginning of the URL filters matching a host and its
// subdomains.
const hostPrefix = `^(https?)?(wss?)?://([a-z0-9-]+\.)*`

// hostSuffix is the end of the URL filters matching a host.
const hostSuffix = `(:?[0-9]+)?/.*`

// anyURL is the URL filter matching every request.
const anyURL = ".*"

// resourceTypes maps the resource types of tracker data to the resource types
// of the rules.
var resourceTypes = map[string]string{
	"font":           "font",
	"image":          "image",
	"media":          "media",
	"script":         "script",
	"stylesheet":     "style-sheet",
	"subdocument":    "document",
	"xmlhttprequest": "raw",
	"ping":           "raw",
	"websocket":      "raw",
	"other":          "raw",
}

// emitter accumulates the rules of a single compilation.
type emitter struct {
	logger     *slog.Logger
	data       *tds.DataSet
	surrogates *surrogate.Set
	rules      []*Rule
}

// emit appends a rule.
func (e *emitter) emit(t *Trigger, a *Action) {
	e.rules = append(e.rules, &Rule{Trigger: t, Action: a})
}

// tracker emits the rules of t.  Tracker rules follow the first-match-wins
// order of the tracker data, so they are emitted in reverse.
func (e *emitter) tracker(ctx context.Context, t *tds.Tracker) {
	if t.DefaultAction == tds.ActionBlock {
		e.emit(&Trigger{
			URLFilter:    hostFilter(t.Domain),
			UnlessDomain: e.firstPartyDomains(t),
			LoadType:     []string{LoadTypeThirdParty},
		}, &Action{Type: ActionTypeBlock})
	}

	for _, r := range slices.Backward(t.Rules) {
		if t.DefaultAction == tds.ActionIgnore && r.Action == tds.ActionIgnore {
			continue
		}

		e.trackerRule(ctx, t, r)
	}
}

// trackerRule emits the rules of a single tracker rule and its exceptions.
func (e *emitter) trackerRule(ctx context.Context, t *tds.Tracker, r *tds.Rule) {
	filter := ruleFilter(r.Pattern)
	trigger := &Trigger{
		URLFilter: filter,
		LoadType:  []string{LoadTypeThirdParty},
	}

	if r.Options != nil {
		trigger.IfDomain = wildcard(r.Options.Domains)
		trigger.ResourceType = mapResourceTypes(r.Options.Types)
	}

	if trigger.IfDomain == nil {
		trigger.UnlessDomain = e.firstPartyDomains(t)
	}

	act := &Action{Type: ActionTypeBlock}
	if r.Action == tds.ActionIgnore {
		act.Type = ActionTypeIgnorePreviousRules
	} else if r.Surrogate != "" {
		if e.surrogates.Has(r.Surrogate) {
			act.Surrogate = r.Surrogate
		} else {
			e.logger.WarnContext(
				ctx,
				"unknown surrogate",
				"tracker", t.Domain,
				"surrogate", r.Surrogate,
			)
		}
	}

	e.emit(trigger, act)

	if r.Exceptions == nil || act.Type != ActionTypeBlock {
		return
	}

	e.emit(&Trigger{
		URLFilter:    filter,
		IfDomain:     wildcard(r.Exceptions.Domains),
		ResourceType: mapResourceTypes(r.Exceptions.Types),
	}, &Action{Type: ActionTypeIgnorePreviousRules})
}

// firstPartyDomains returns the wildcard domains of the owner of t.  Requests
// from these pages are first-party and are not blocked by default.
func (e *emitter) firstPartyDomains(t *tds.Tracker) (domains []string) {
	if t.Owner == "" {
		return nil
	}

	ent := e.data.EntityByName(t.Owner)
	if ent == nil {
		return nil
	}

	return wildcard(ent.Domains)
}

// exception emits the ignore rules for an exception domain: one for the pages
// of the domain and one for the requests to it.
func (e *emitter) exception(domain string) {
	e.emit(&Trigger{
		URLFilter: anyURL,
		IfDomain:  []string{"*" + domain},
	}, &Action{Type: ActionTypeIgnorePreviousRules})

	e.emit(&Trigger{
		URLFilter: hostFilter(domain),
	}, &Action{Type: ActionTypeIgnorePreviousRules})
}

// allowListEntry emits the ignore rule for an allow-list entry.
func (e *emitter) allowListEntry(entry *privacyconfig.AllowListEntry) {
	t := &Trigger{
		URLFilter: hostPrefix + regexp.QuoteMeta(entry.Rule),
	}

	if !entry.AllDomains {
		if len(entry.Domains) == 0 {
			return
		}

		t.IfDomain = wildcard(entry.Domains)
	}

	e.emit(t, &Action{Type: ActionTypeIgnorePreviousRules})
}

// hostFilter returns the URL filter matching the requests to domain and its
// subdomains.
func hostFilter(domain string) (filter string) {
	return hostPrefix + regexp.QuoteMeta(domain) + hostSuffix
}

// ruleFilter returns the URL filter for a tracker rule pattern.  Unanchored
// patterns are anchored at a host boundary.
func ruleFilter(pattern string) (filter string) {
	if strings.HasPrefix(pattern, "^") {
		return pattern
	}

	return hostPrefix + pattern
}

// wildcard returns the domains with the "*" prefix, which makes the rules
// apply to their subdomains as well.  domains must be sorted.
func wildcard(domains []string) (wc []string) {
	if len(domains) == 0 {
		return nil
	}

	wc = make([]string, 0, len(domains))
	for _, d := range domains {
		wc = append(wc, "*"+d)
	}

	return wc
}

// mapResourceTypes returns the sorted rule resource types for the resource
// types of tracker data.  Unknown types are mapped to "raw".
func mapResourceTypes(types []string) (mapped []string) {
	if len(types) == 0 {
		return nil
	}

	for _, typ := range types {
		m, ok := resourceTypes[strings.ToLower(typ)]
		if !ok {
			m = "raw"
		}

		mapped = append(mapped, m)
	}

	slices.Sort(mapped)

	return slices.Compact(mapped)
}

// normalize returns the canonical form of a domain.
func normalize(domain string) (norm string) {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// HostFromFilter returns the host of a URL filter that matches the requests to
// a host and its subdomains.  ok is false if filter is not such a filter.
func HostFromFilter(filter string) (host string, ok bool) {
	rest, ok := strings.CutPrefix(filter, hostPrefix)
	if !ok {
		return "", false
	}

	quoted, ok := strings.CutSuffix(rest, hostSuffix)
	if !ok {
		return "", false
	}

	host = strings.ReplaceAll(quoted, `\.`, ".")
	if host == "" || strings.ContainsAny(host, `\^$*+?()[]{}|/`) {
		return "", false
	}

	return host, true
}
