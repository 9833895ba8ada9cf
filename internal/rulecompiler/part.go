package rulecompiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// Part is a part of the compilation input which can be dropped when it breaks
// the compilation.
type Part string

// Part values in the order in which they are dropped.
const (
	// PartTempList is the temporary list: the content-blocking exceptions and
	// the temporarily unprotected domains of the privacy configuration.
	PartTempList Part = "temp_list"

	// PartAllowList is the tracker allow-list of the privacy configuration.
	PartAllowList Part = "allow_list"

	// PartUnprotected is the list of the domains the user has disabled
	// protection for.
	PartUnprotected Part = "unprotected"
)

// Parts are all the parts of the input which can be dropped in the order in
// which they are dropped.
var Parts = []Part{
	PartTempList,
	PartAllowList,
	PartUnprotected,
}

// PartIdentifier returns the identifier of the part p of in.  id is empty if
// the part is empty in in, so an empty part is never considered broken.
func PartIdentifier(in *Input, p Part) (id string) {
	var vals []string
	switch p {
	case PartTempList:
		vals = normalizedDomains(in.Exceptions, in.TempUnprotected)
	case PartAllowList:
		for _, e := range sortedAllowList(in) {
			vals = append(vals, allowListKey(e))
		}
	case PartUnprotected:
		vals = normalizedDomains(in.UserUnprotected)
	default:
		panic(fmt.Errorf("part: %w: %q", errors.ErrBadEnumValue, p))
	}

	if len(vals) == 0 {
		return ""
	}

	h := sha256.New()
	writeList(h, string(p), vals)

	return hex.EncodeToString(h.Sum(nil)[:8])
}

// WithoutPart returns a copy of in with the part p dropped.  in is not
// modified.
func WithoutPart(in *Input, p Part) (res *Input) {
	cp := *in
	switch p {
	case PartTempList:
		cp.Exceptions, cp.TempUnprotected = nil, nil
	case PartAllowList:
		cp.AllowList = nil
	case PartUnprotected:
		cp.UserUnprotected = nil
	default:
		panic(fmt.Errorf("part: %w: %q", errors.ErrBadEnumValue, p))
	}

	return &cp
}
