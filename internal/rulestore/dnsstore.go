package rulestore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
)

// DNSStoreConfig is the configuration structure for a *DNSStore.
type DNSStoreConfig struct {
	// Logger is used to log the operation of the store.  It must not be nil.
	Logger *slog.Logger

	// ListID is the ID of the rule lists inside the URL-filter engines.
	ListID int
}

// DNSStore is a [Store] that compiles the host-level rules of rule sets into
// DNS filtering engines.  Rules restricted to pages or resource types cannot
// be checked on the DNS level and are skipped, and allowlist rules take
// precedence over blocking ones regardless of their order.  The rules are only
// kept in memory.
type DNSStore struct {
	logger *slog.Logger

	// mu protects texts.
	mu *sync.Mutex

	// texts maps identifiers to the text of the translated rules.
	texts map[string]string

	listID int
}

// NewDNSStore returns a new properly initialized *DNSStore.
func NewDNSStore(c *DNSStoreConfig) (s *DNSStore) {
	return &DNSStore{
		logger: c.Logger,
		mu:     &sync.Mutex{},
		texts:  map[string]string{},
		listID: c.ListID,
	}
}

// type check
var _ Store = (*DNSStore)(nil)

// Compile implements the [Store] interface for *DNSStore.
func (s *DNSStore) Compile(
	ctx context.Context,
	id string,
	encoded []byte,
) (l CompiledList, err error) {
	rs, err := decodeRules(encoded)
	if err != nil {
		return nil, &RegistrationError{Err: err, Identifier: id}
	}

	text := dnsRulesText(rs)
	dl, err := s.newList(id, text)
	if err != nil {
		return nil, &RegistrationError{Err: err, Identifier: id}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.texts[id] = text
	s.logger.DebugContext(
		ctx,
		"compiled dns rule list",
		cbevent.KeyIdentifier, id,
		"rules", dl.engine.RulesCount,
	)

	return dl, nil
}

// Lookup implements the [Store] interface for *DNSStore.
func (s *DNSStore) Lookup(_ context.Context, id string) (l CompiledList, err error) {
	s.mu.Lock()
	text, ok := s.texts[id]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	dl, err := s.newList(id, text)
	if err != nil {
		return nil, fmt.Errorf("stored list %q: %w", id, err)
	}

	return dl, nil
}

// Remove implements the [Store] interface for *DNSStore.
func (s *DNSStore) Remove(_ context.Context, id string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.texts, id)

	return nil
}

// newList returns a new DNS list for the rules text.
func (s *DNSStore) newList(id, text string) (dl *DNSList, err error) {
	storage, err := filterlist.NewRuleStorage([]filterlist.RuleList{
		&filterlist.StringRuleList{
			ID:             s.listID,
			RulesText:      text,
			IgnoreCosmetic: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating rule storage: %w", err)
	}

	return &DNSList{
		engine:  urlfilter.NewDNSEngine(storage),
		storage: storage,
		id:      id,
	}, nil
}

// dnsRulesText translates the host-level rules into the AdGuard rule syntax.
func dnsRulesText(rs []*rulecompiler.Rule) (text string) {
	b := &strings.Builder{}
	for _, r := range rs {
		t := r.Trigger
		if len(t.IfDomain) > 0 || len(t.ResourceType) > 0 {
			continue
		}

		host, ok := rulecompiler.HostFromFilter(t.URLFilter)
		if !ok {
			continue
		}

		if r.Action.Type == rulecompiler.ActionTypeIgnorePreviousRules {
			b.WriteString("@@")
		}

		b.WriteString("||")
		b.WriteString(host)
		b.WriteString("^\n")
	}

	return b.String()
}

// DNSList is a [CompiledList] that checks hostnames.
type DNSList struct {
	engine  *urlfilter.DNSEngine
	storage *filterlist.RuleStorage
	id      string
}

// type check
var _ CompiledList = (*DNSList)(nil)

// Identifier implements the [CompiledList] interface for *DNSList.
func (l *DNSList) Identifier() (id string) {
	return l.id
}

// Close implements the [CompiledList] interface for *DNSList.
func (l *DNSList) Close() (err error) {
	err = l.storage.Close()
	if err != nil {
		return fmt.Errorf("closing dns list %q: %w", l.id, err)
	}

	return nil
}

// MatchHost returns true if requests to host must be blocked.
func (l *DNSList) MatchHost(host string) (blocked bool) {
	res, ok := l.engine.MatchRequest(&urlfilter.DNSRequest{
		Hostname: strings.ToLower(host),
	})
	if !ok || res == nil || res.NetworkRule == nil {
		return false
	}

	return !res.NetworkRule.Whitelist
}
