// Package rulestore contains the rule-list stores, which turn encoded rule
// sets into executable compiled lists.
package rulestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
	"github.com/AdguardTeam/golibs/errors"
)

// CompiledList is an executable compiled rule list.
type CompiledList interface {
	// Identifier returns the identifier the list has been compiled with.
	Identifier() (id string)

	// Close releases the resources of the list.  It must not be used after
	// that.
	Close() (err error)
}

// Store compiles encoded rule sets and keeps the compiled lists by
// identifier.  All methods must be safe for concurrent use.
type Store interface {
	// Compile compiles encoded and saves the result under id.  Any error
	// returned is a *RegistrationError.
	Compile(ctx context.Context, id string, encoded []byte) (l CompiledList, err error)

	// Lookup returns the list previously compiled under id.  l is nil if
	// there is no such list.
	Lookup(ctx context.Context, id string) (l CompiledList, err error)

	// Remove removes the list saved under id.  Removing a missing list is not
	// an error.
	Remove(ctx context.Context, id string) (err error)
}

// RegistrationError is returned when a store rejects an encoded rule set.
type RegistrationError struct {
	// Err is the underlying error.
	Err error

	// Identifier is the identifier of the rejected rule set.
	Identifier string
}

// type check
var _ error = (*RegistrationError)(nil)

// Error implements the error interface for *RegistrationError.
func (err *RegistrationError) Error() (msg string) {
	return fmt.Sprintf("registering rule list %q: %s", err.Identifier, err.Err)
}

// Unwrap implements the [errors.Wrapper] interface for *RegistrationError.
func (err *RegistrationError) Unwrap() (unwrapped error) {
	return err.Err
}

// errNoTrigger is returned when a rule has no trigger or action.
const errNoTrigger errors.Error = "no trigger or action"

// decodeRules decodes and checks the encoded rules.
func decodeRules(encoded []byte) (rules []*rulecompiler.Rule, err error) {
	err = json.Unmarshal(encoded, &rules)
	if err != nil {
		return nil, fmt.Errorf("decoding rules: %w", err)
	}

	for i, r := range rules {
		if r == nil || r.Trigger == nil || r.Action == nil {
			return nil, fmt.Errorf("rule at index %d: %w", i, errNoTrigger)
		}

		switch r.Action.Type {
		case rulecompiler.ActionTypeBlock, rulecompiler.ActionTypeIgnorePreviousRules:
			// Go on.
		default:
			return nil, fmt.Errorf(
				"rule at index %d: action type: %w: %q",
				i,
				errors.ErrBadEnumValue,
				r.Action.Type,
			)
		}
	}

	return rules, nil
}
