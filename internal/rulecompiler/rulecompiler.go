// Package rulecompiler compiles tracker data and privacy exceptions into an
// ordered list of content-blocker rules.
package rulecompiler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/TrackerShield/internal/surrogate"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
)

// ActionType is the type of a rule action.
type ActionType string

// ActionType values.
const (
	ActionTypeBlock               ActionType = "block"
	ActionTypeIgnorePreviousRules ActionType = "ignore-previous-rules"
)

// Load types.
const (
	LoadTypeFirstParty = "first-party"
	LoadTypeThirdParty = "third-party"
)

// Rule is a content-blocker rule.  Rules are evaluated in order, and a
// matching rule with [ActionTypeIgnorePreviousRules] cancels the effect of the
// previous matching rules.
type Rule struct {
	Trigger *Trigger `json:"trigger"`
	Action  *Action  `json:"action"`
}

// Trigger defines the requests a rule applies to.
type Trigger struct {
	// URLFilter is the regular expression matched against the request URL.
	URLFilter string `json:"url-filter"`

	// IfDomain are the page domains the rule applies on.  A "*" prefix
	// includes the subdomains.
	IfDomain []string `json:"if-domain,omitempty"`

	// UnlessDomain are the page domains the rule does not apply on.
	UnlessDomain []string `json:"unless-domain,omitempty"`

	// ResourceType are the resource types the rule applies to.
	ResourceType []string `json:"resource-type,omitempty"`

	// LoadType are the load types the rule applies to.
	LoadType []string `json:"load-type,omitempty"`
}

// Action defines what happens to the matching requests.
type Action struct {
	// Type is the type of the action.
	Type ActionType `json:"type"`

	// Surrogate is the name of the script served instead of the blocked
	// resource.  It is only set for block actions.
	Surrogate string `json:"surrogate,omitempty"`
}

// isIgnore returns true if the rule cancels the previous rules.
func (r *Rule) isIgnore() (ok bool) {
	return r.Action.Type == ActionTypeIgnorePreviousRules
}

// Input is the input of a compilation.  All fields except TrackerData may be
// empty.  The order of the slices does not affect the result.
type Input struct {
	// TrackerData is the tracker data to compile.  It must not be nil.
	TrackerData *tds.DataSet

	// Surrogates are the available surrogate scripts.
	Surrogates *surrogate.Set

	// Exceptions are the domains excluded from the content-blocking feature.
	Exceptions []string

	// TempUnprotected are the temporarily unprotected domains.
	TempUnprotected []string

	// UserUnprotected are the domains the user has disabled protection for.
	UserUnprotected []string

	// AllowList are the tracker allow-list entries.
	AllowList []*privacyconfig.AllowListEntry
}

// RuleSet is the result of a compilation.
type RuleSet struct {
	// Identifier is the identifier of the input.  See [Identifier].
	Identifier string

	// TrackerEtag is the etag of the compiled tracker data.
	TrackerEtag string

	// Rules are the compiled rules in evaluation order.
	Rules []*Rule
}

// Config is the configuration structure for a *Compiler.
type Config struct {
	// Logger is used to log the compilation warnings.  It must not be nil.
	Logger *slog.Logger
}

// Compiler compiles rule sets.  Compilation is a pure function of its input.
type Compiler struct {
	logger *slog.Logger
}

// New returns a new properly initialized *Compiler.
func New(c *Config) (comp *Compiler) {
	return &Compiler{
		logger: c.Logger,
	}
}

// Compile compiles in into a rule set.  Rules are emitted in the following
// order, after which they are deduplicated:
//
//  1. Rules of the trackers, sorted by tracker domain.
//  2. Ignore rules for the exception domains.
//  3. Ignore rules for the allow-list entries.
func (c *Compiler) Compile(ctx context.Context, in *Input) (rs *RuleSet) {
	e := &emitter{
		logger:     c.logger,
		data:       in.TrackerData,
		surrogates: in.Surrogates,
	}

	for _, t := range in.TrackerData.Trackers() {
		e.tracker(ctx, t)
	}

	for _, d := range exceptionDomains(in) {
		e.exception(d)
	}

	for _, entry := range sortedAllowList(in) {
		e.allowListEntry(entry)
	}

	return &RuleSet{
		Identifier:  Identifier(in),
		TrackerEtag: in.TrackerData.Etag(),
		Rules:       dedup(e.rules),
	}
}

// sortedAllowList returns the allow-list entries of in sorted by
// [allowListKey].  in.AllowList is not modified.
func sortedAllowList(in *Input) (entries []*privacyconfig.AllowListEntry) {
	entries = slices.Clone(in.AllowList)
	slices.SortStableFunc(entries, func(a, b *privacyconfig.AllowListEntry) (res int) {
		return strings.Compare(allowListKey(a), allowListKey(b))
	})

	return entries
}

// allowListKey returns the string uniquely describing the allow-list entry.
func allowListKey(e *privacyconfig.AllowListEntry) (k string) {
	return fmt.Sprintf("%s|%s|%t|%v", e.Tracker, e.Rule, e.AllDomains, e.Domains)
}

// exceptionDomains returns the sorted union of the exception domains of in.
func exceptionDomains(in *Input) (domains []string) {
	return normalizedDomains(in.Exceptions, in.TempUnprotected, in.UserUnprotected)
}

// normalizedDomains returns the sorted union of the normalized domains of
// lists with empty ones removed.
func normalizedDomains(lists ...[]string) (domains []string) {
	domains = slices.Concat(lists...)
	for i, d := range domains {
		domains[i] = normalize(d)
	}

	domains = slices.DeleteFunc(domains, func(d string) (ok bool) { return d == "" })
	slices.Sort(domains)

	return slices.Compact(domains)
}
