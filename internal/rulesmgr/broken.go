package rulesmgr

import (
	"sync"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
)

// partKinds are the event kinds reported when a list only compiles without
// the corresponding part of the input.
var partKinds = map[rulecompiler.Part]cbevent.Kind{
	rulecompiler.PartTempList:    cbevent.KindTempListCompilation,
	rulecompiler.PartAllowList:   cbevent.KindAllowListCompilation,
	rulecompiler.PartUnprotected: cbevent.KindUnprotectedCompilation,
}

// brokenInputs remembers the parts of the input that have broken the
// compilation of rule lists.  A part is only skipped while its identifier
// stays the same, so a changed part is tried again.
type brokenInputs struct {
	// mu protects ids.
	mu *sync.Mutex

	// ids maps the names of the rule lists to the identifiers of their
	// broken parts.
	ids map[string]map[rulecompiler.Part]string
}

// newBrokenInputs returns a new properly initialized *brokenInputs.
func newBrokenInputs() (b *brokenInputs) {
	return &brokenInputs{
		mu:  &sync.Mutex{},
		ids: map[string]map[rulecompiler.Part]string{},
	}
}

// isBroken returns true if the part p of the list name has been marked broken
// with id.
func (b *brokenInputs) isBroken(name string, p rulecompiler.Part, id string) (ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return id != "" && b.ids[name][p] == id
}

// mark marks the part p of the list name with identifier id as broken.
func (b *brokenInputs) mark(name string, p rulecompiler.Part, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	parts := b.ids[name]
	if parts == nil {
		parts = map[rulecompiler.Part]string{}
		b.ids[name] = parts
	}

	parts[p] = id
}

// filter returns in without the parts known to break the list name.  in is
// not modified.
func (b *brokenInputs) filter(name string, in *rulecompiler.Input) (res *rulecompiler.Input) {
	res = in
	for _, p := range rulecompiler.Parts {
		if b.isBroken(name, p, rulecompiler.PartIdentifier(in, p)) {
			res = rulecompiler.WithoutPart(res, p)
		}
	}

	return res
}
