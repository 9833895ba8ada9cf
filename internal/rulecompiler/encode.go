package rulecompiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strconv"
	"unicode/utf8"

	"github.com/AdguardTeam/golibs/errors"
)

// MaxRules is the maximum number of rules in an encoded rule set accepted by
// content-blocker engines.
const MaxRules = 150_000

// Encoding errors.
const (
	// ErrTooManyRules is returned when a rule set contains more than
	// [MaxRules] rules.
	ErrTooManyRules errors.Error = "too many rules"

	// ErrNonASCIIFilter is returned when a URL filter contains non-ASCII
	// characters, which content-blocker engines do not support.
	ErrNonASCIIFilter errors.Error = "non-ascii url filter"
)

// EncodeError is returned when a rule set cannot be encoded into the engine
// input format.
type EncodeError struct {
	// Err is the underlying error.
	Err error

	// Identifier is the identifier of the rule set.
	Identifier string
}

// type check
var _ error = (*EncodeError)(nil)

// Error implements the error interface for *EncodeError.
func (err *EncodeError) Error() (msg string) {
	return fmt.Sprintf("encoding rule set %q: %s", err.Identifier, err.Err)
}

// Unwrap implements the [errors.Wrapper] interface for *EncodeError.
func (err *EncodeError) Unwrap() (unwrapped error) {
	return err.Err
}

// Encode returns the JSON encoding of the rules.  Identical rule sets have
// byte-identical encodings.  Any error returned is an *EncodeError.
func (rs *RuleSet) Encode() (data []byte, err error) {
	if l := len(rs.Rules); l > MaxRules {
		return nil, &EncodeError{
			Err:        fmt.Errorf("%w: %d, max %d", ErrTooManyRules, l, MaxRules),
			Identifier: rs.Identifier,
		}
	}

	for i, r := range rs.Rules {
		if !isASCII(r.Trigger.URLFilter) {
			return nil, &EncodeError{
				Err:        fmt.Errorf("rule at index %d: %w: %q", i, ErrNonASCIIFilter, r.Trigger.URLFilter),
				Identifier: rs.Identifier,
			}
		}
	}

	data, err = json.Marshal(rs.Rules)
	if err != nil {
		return nil, &EncodeError{Err: err, Identifier: rs.Identifier}
	}

	return data, nil
}

// isASCII returns true if s only contains ASCII characters.
func isASCII(s string) (ok bool) {
	for i := range len(s) {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}

	return true
}

// Identifier returns the identifier of the compilation input.  It consists of
// the etag of the tracker data and the hash of the rest of the input, so that
// identical inputs have identical identifiers regardless of the order of the
// slices.
func Identifier(in *Input) (id string) {
	h := sha256.New()

	writeList(h, "exceptions", exceptionDomains(in))

	allow := make([]string, 0, len(in.AllowList))
	for _, e := range sortedAllowList(in) {
		allow = append(allow, allowListKey(e))
	}

	writeList(h, "allowlist", allow)
	writeList(h, "surrogates", in.Surrogates.Names())

	return in.TrackerData.Etag() + "-" + hex.EncodeToString(h.Sum(nil)[:8])
}

// writeList writes a length-prefixed tagged list into h.
func writeList(h hash.Hash, tag string, vals []string) {
	// hash.Hash never returns errors on writes.
	_, _ = h.Write([]byte(tag + ":" + strconv.Itoa(len(vals)) + "\n"))
	for _, v := range vals {
		_, _ = h.Write([]byte(v + "\n"))
	}
}
