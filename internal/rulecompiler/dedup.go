package rulecompiler

import (
	"strings"
)

// dedupKey is the identity of a rule trigger.
type dedupKey struct {
	urlFilter    string
	ifDomain     string
	unlessDomain string
	resourceType string
	loadType     string
}

// newDedupKey returns the key of t.
func newDedupKey(t *Trigger) (k dedupKey) {
	return dedupKey{
		urlFilter:    t.URLFilter,
		ifDomain:     strings.Join(t.IfDomain, ","),
		unlessDomain: strings.Join(t.UnlessDomain, ","),
		resourceType: strings.Join(t.ResourceType, ","),
		loadType:     strings.Join(t.LoadType, ","),
	}
}

// dedup removes the rules with the same trigger.  When two rules collide:
//
//   - an ignore rule wins over a block rule and keeps its own position;
//   - of two block rules, the first one wins;
//   - of two ignore rules, the last one wins.
func dedup(rules []*Rule) (res []*Rule) {
	kept := make([]*Rule, len(rules))
	positions := make(map[dedupKey]int, len(rules))

	for i, r := range rules {
		k := newDedupKey(r.Trigger)
		prev, ok := positions[k]
		if ok {
			if !r.isIgnore() {
				// A block rule never replaces a previous rule.
				continue
			}

			kept[prev] = nil
		}

		kept[i] = r
		positions[k] = i
	}

	res = make([]*Rule, 0, len(positions))
	for _, r := range kept {
		if r != nil {
			res = append(res, r)
		}
	}

	return res
}
