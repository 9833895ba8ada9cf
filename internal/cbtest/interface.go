package cbtest

import (
	"context"

	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/TrackerShield/internal/rulestore"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
)

// Interface Mocks
//
// Keep entities in this file in alphabetic order.

// CompiledList is a fake [rulestore.CompiledList] implementation for tests.
type CompiledList struct {
	OnIdentifier func() (id string)
	OnClose      func() (err error)
}

// type check
var _ rulestore.CompiledList = (*CompiledList)(nil)

// Identifier implements the [rulestore.CompiledList] interface for
// *CompiledList.
func (l *CompiledList) Identifier() (id string) {
	return l.OnIdentifier()
}

// Close implements the [rulestore.CompiledList] interface for *CompiledList.
func (l *CompiledList) Close() (err error) {
	return l.OnClose()
}

// NewCompiledList returns a *CompiledList with the given identifier and a
// Close method that does nothing.
func NewCompiledList(id string) (l *CompiledList) {
	return &CompiledList{
		OnIdentifier: func() (got string) { return id },
		OnClose:      func() (err error) { return nil },
	}
}

// PrivacyConfig is a fake privacy-configuration source for tests.
type PrivacyConfig struct {
	OnCurrent func() (s *privacyconfig.Snapshot)
}

// Current returns the current snapshot.
func (c *PrivacyConfig) Current() (s *privacyconfig.Snapshot) {
	return c.OnCurrent()
}

// Store is a fake [rulestore.Store] implementation for tests.
type Store struct {
	OnCompile func(
		ctx context.Context,
		id string,
		encoded []byte,
	) (l rulestore.CompiledList, err error)
	OnLookup func(ctx context.Context, id string) (l rulestore.CompiledList, err error)
	OnRemove func(ctx context.Context, id string) (err error)
}

// type check
var _ rulestore.Store = (*Store)(nil)

// Compile implements the [rulestore.Store] interface for *Store.
func (s *Store) Compile(
	ctx context.Context,
	id string,
	encoded []byte,
) (l rulestore.CompiledList, err error) {
	return s.OnCompile(ctx, id, encoded)
}

// Lookup implements the [rulestore.Store] interface for *Store.
func (s *Store) Lookup(ctx context.Context, id string) (l rulestore.CompiledList, err error) {
	return s.OnLookup(ctx, id)
}

// Remove implements the [rulestore.Store] interface for *Store.
func (s *Store) Remove(ctx context.Context, id string) (err error) {
	return s.OnRemove(ctx, id)
}

// TrackerData is a fake tracker-data source for tests.
type TrackerData struct {
	OnCurrent  func() (ds *tds.DataSet)
	OnEmbedded func() (ds *tds.DataSet, err error)
}

// Current returns the current data set.
func (d *TrackerData) Current() (ds *tds.DataSet) {
	return d.OnCurrent()
}

// Embedded returns the embedded data set.
func (d *TrackerData) Embedded() (ds *tds.DataSet, err error) {
	return d.OnEmbedded()
}

// UnprotectedDomains is a fake source of user-unprotected domains for tests.
type UnprotectedDomains struct {
	OnDomains func() (domains []string)
}

// Domains returns the sorted domains.
func (u *UnprotectedDomains) Domains() (domains []string) {
	return u.OnDomains()
}
