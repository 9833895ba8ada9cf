// Package tds contains the tracker-data model and the tracker registry, which
// resolves hosts to trackers and their owning entities.
package tds

import (
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// Action is the action of a tracker or of a tracker rule.
type Action string

// Action values.
const (
	ActionBlock  Action = "block"
	ActionIgnore Action = "ignore"
)

// parseAction parses an action string.  An empty string means "block", which
// is the default for tracker rules.
func parseAction(s string) (a Action, err error) {
	switch a = Action(strings.ToLower(s)); a {
	case "":
		return ActionBlock, nil
	case ActionBlock, ActionIgnore:
		return a, nil
	default:
		return "", fmt.Errorf("action: %w: %q", errors.ErrBadEnumValue, s)
	}
}

// Origin describes where a dataset came from.
type Origin string

// Origin values.
const (
	// OriginEmbedded means that the dataset is the one shipped with the
	// application.
	OriginEmbedded Origin = "embedded"

	// OriginEmbeddedFallback means that a downloaded dataset could not be
	// used, and the embedded one was used instead.
	OriginEmbeddedFallback Origin = "embeddedFallback"

	// OriginDownloaded means that the dataset was downloaded.
	OriginDownloaded Origin = "downloaded"
)

// Source is a serialized tracker-data document along with its etag.
type Source struct {
	// Etag is the opaque version of Data.
	Etag string

	// Data is the JSON document.
	Data []byte
}

// Tracker is a single tracker record.  It must not be modified after loading.
type Tracker struct {
	// Domain is the canonical lowercase host of the tracker.  For trackers
	// found through a CNAME, it is the host that was actually requested.
	Domain string

	// Owner is the name of the owning entity.  It is empty if the tracker has
	// no known owner.
	Owner string

	// DefaultAction is the action applied to requests that match no rule.
	DefaultAction Action

	// Categories are the sorted category tags.
	Categories []string

	// Rules are the path rules of the tracker in their original order.
	Rules []*Rule

	// Prevalence is the informational prevalence score.
	Prevalence float64
}

// Rule is a path rule of a tracker.
type Rule struct {
	// Options, if not nil, restricts the rule to the matching requests.
	Options *Condition

	// Exceptions, if not nil, describes the requests the rule does not apply
	// to.
	Exceptions *Condition

	// Pattern is the regular expression matched against request URLs.
	Pattern string

	// Action is the action of the rule.
	Action Action

	// Surrogate is the name of the replacement script, if any.
	Surrogate string
}

// Condition is a set of first-party domains and resource types.
type Condition struct {
	// Domains are the sorted first-party domains.
	Domains []string

	// Types are the sorted resource types.
	Types []string
}

// Entity is an organization owning tracker domains.
type Entity struct {
	// Name is the unique key of the entity.
	Name string

	// DisplayName is the human-readable name of the entity.  It is Name when
	// the document does not contain one.
	DisplayName string

	// Domains are the sorted domains owned by the entity.
	Domains []string

	// Prevalence is the informational prevalence score.
	Prevalence float64
}

// normalizeHost returns the canonical form of a host.
func normalizeHost(host string) (norm string) {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
