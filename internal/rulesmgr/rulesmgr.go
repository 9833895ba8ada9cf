// Package rulesmgr contains the compiled rule-list manager, which compiles
// rule lists in the background and publishes them to the consumers.
package rulesmgr

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
	"github.com/AdguardTeam/TrackerShield/internal/rulestore"
	"github.com/AdguardTeam/TrackerShield/internal/surrogate"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
	"github.com/AdguardTeam/TrackerShield/internal/unprotected"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/google/uuid"
)

// Rule-list names.
const (
	ListNameTDS         = "tds"
	ListNameClickToLoad = "click-to-load"
)

// DefaultStalenessWindow is the default duration after which an unverified
// compiled list is compiled again.
const DefaultStalenessWindow = 7 * timeutil.Day

// TrackerData is the source of tracker data for compilations.
type TrackerData interface {
	// Current returns the current data set.  It must not return nil.
	Current() (ds *tds.DataSet)

	// Embedded returns the data set shipped with the application.
	Embedded() (ds *tds.DataSet, err error)
}

// PrivacyConfig is the source of privacy configuration for compilations.
type PrivacyConfig interface {
	// Current returns the current snapshot.  It must not return nil.
	Current() (s *privacyconfig.Snapshot)
}

// UnprotectedDomains is the source of the domains the user has disabled
// protection for.
type UnprotectedDomains interface {
	// Domains returns the domains.  It must be safe for concurrent use.
	Domains() (domains []string)
}

// type check
var (
	_ TrackerData        = (*tds.Registry)(nil)
	_ PrivacyConfig      = (*privacyconfig.Manager)(nil)
	_ UnprotectedDomains = (*unprotected.Storage)(nil)
)

// Config is the configuration structure for a *Manager.
type Config struct {
	// Logger is used to log the operation of the manager.  It must not be
	// nil.
	Logger *slog.Logger

	// Reporter receives the compilation errors and timings.  It must not be
	// nil.
	Reporter cbevent.Reporter

	// Clock is used to get the current time.  It must not be nil.
	Clock timeutil.Clock

	// Compiler compiles the rule sets.  It must not be nil.
	Compiler *rulecompiler.Compiler

	// Store registers the encoded rule sets.  It must not be nil.
	Store rulestore.Store

	// TrackerData is the source of tracker data.  It must not be nil.
	TrackerData TrackerData

	// PrivacyConfig is the source of privacy configuration.  It must not be
	// nil.
	PrivacyConfig PrivacyConfig

	// Unprotected is the source of user-unprotected domains.  It must not be
	// nil.
	Unprotected UnprotectedDomains

	// Surrogates are the available surrogate scripts.  It may be nil.
	Surrogates *surrogate.Set

	// FreshnessPath is the path to the file with the freshness metadata of
	// the compiled lists.  If it is empty, the metadata is not persisted.
	FreshnessPath string

	// StalenessWindow is the duration after which a compiled list that has
	// not been verified is compiled again.  It must be positive.
	StalenessWindow time.Duration
}

// List is a published compiled rule list.
type List struct {
	// Compiled is the list registered in the store.
	Compiled rulestore.CompiledList

	// TrackerData is the data set the list has been compiled from.
	TrackerData *tds.DataSet

	// CompiledAt is the time when the list has been compiled or loaded from
	// the store.
	CompiledAt time.Time

	// refs is the number of references to the list.  The list is closed when
	// it reaches zero.
	refs *atomic.Int64

	// Name is the name of the list, for example [ListNameTDS].
	Name string

	// Identifier is the identifier of the compilation input.
	Identifier string

	// VersionID is the unique ID of this version of the list.
	VersionID uuid.UUID
}

// Rules is a published set of rule lists.  It must not be modified.
type Rules struct {
	// Lists maps rule-list names to the lists.
	Lists map[string]*List

	// Generation is the generation of the compilation that has published the
	// rules.  Generations of published rules only increase.
	Generation uint64
}

// List returns the list with the given name or nil.
func (r *Rules) List(name string) (l *List) {
	return r.Lists[name]
}

// Names returns the sorted names of the lists.
func (r *Rules) Names() (names []string) {
	return slices.Sorted(maps.Keys(r.Lists))
}

// UpdateEvent is sent to the subscribers on every publication.
type UpdateEvent struct {
	// Rules are the published rules.
	Rules *Rules

	// Changed are the sorted names of the lists that have been replaced,
	// added, or removed.
	Changed []string
}

// Manager compiles rule lists in the background and publishes them.  At most
// one compilation pass runs at a time.
type Manager struct {
	logger      *slog.Logger
	reporter    cbevent.Reporter
	clock       timeutil.Clock
	compiler    *rulecompiler.Compiler
	store       rulestore.Store
	trackers    TrackerData
	privacy     PrivacyConfig
	unprotected UnprotectedDomains
	surrogates  *surrogate.Set
	freshness   *freshness
	broken      *brokenInputs
	current     *atomic.Pointer[Rules]

	// mu protects subs, running, pending, and generation as well as the
	// publication of rules and the references of the published lists.
	mu   *sync.Mutex
	subs *container.MapSet[*Subscription]

	// running is the token of the running pass, if any.
	running *Token

	// pending is the token of the pass scheduled to run after the running
	// one, if any.
	pending *Token

	// generation is the last assigned generation.
	generation uint64
}

// New returns a new manager.  It loads the freshness metadata and removes the
// stale lists from the store.  No compilation is scheduled.  c must not be
// nil.
func New(ctx context.Context, c *Config) (m *Manager, err error) {
	m = &Manager{
		logger:      c.Logger,
		reporter:    c.Reporter,
		clock:       c.Clock,
		compiler:    c.Compiler,
		store:       c.Store,
		trackers:    c.TrackerData,
		privacy:     c.PrivacyConfig,
		unprotected: c.Unprotected,
		surrogates:  c.Surrogates,
		freshness:   newFreshness(ctx, c.Logger, c.FreshnessPath, c.Clock, c.StalenessWindow),
		broken:      newBrokenInputs(),
		current:     &atomic.Pointer[Rules]{},
		mu:          &sync.Mutex{},
		subs:        container.NewMapSet[*Subscription](),
	}

	m.current.Store(&Rules{
		Lists: map[string]*List{},
	})

	err = m.removeStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("removing stale lists: %w", err)
	}

	return m, nil
}

// CurrentRules returns the latest published rules.  It never blocks and never
// returns nil.  The lists of the result may be closed after a following
// publication; use [Manager.Acquire] to keep them open.
func (m *Manager) CurrentRules() (r *Rules) {
	return m.current.Load()
}

// Acquire returns the latest published rules and keeps their lists open until
// [Manager.Release] is called with the result.
func (m *Manager) Acquire() (r *Rules) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r = m.current.Load()
	for _, l := range r.Lists {
		l.refs.Add(1)
	}

	return r
}

// Release releases the rules returned by [Manager.Acquire].
func (m *Manager) Release(ctx context.Context, r *Rules) {
	for _, l := range r.Lists {
		m.unref(ctx, l)
	}
}

// unref removes a reference to l and closes it if there are no more
// references.
func (m *Manager) unref(ctx context.Context, l *List) {
	if l.refs.Add(-1) != 0 {
		return
	}

	err := l.Compiled.Close()
	if err != nil {
		m.logger.WarnContext(
			ctx,
			"closing rule list",
			cbevent.KeyRuleList, l.Name,
			cbevent.KeyIdentifier, l.Identifier,
			slogutil.KeyError, err,
		)
	}
}

// publish publishes the results of the pass with the given generation.
// results maps the names of the lists the pass has produced to the lists; a
// nil list means that the compilation has failed and the previous list of
// that name is kept.  Lists that are not in results are removed.  ok is false
// if the results have been dropped because newer rules have already been
// published.
func (m *Manager) publish(ctx context.Context, gen uint64, results map[string]*List) (ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current.Load()
	if gen <= prev.Generation {
		m.logger.InfoContext(
			ctx,
			"dropping superseded rules",
			cbevent.KeyGeneration, gen,
			"published_generation", prev.Generation,
		)

		for _, l := range results {
			if l != nil && prev.Lists[l.Name] != l {
				m.unref(ctx, l)
			}
		}

		return false
	}

	next := &Rules{
		Lists:      make(map[string]*List, len(results)),
		Generation: gen,
	}

	var changed []string
	for name, l := range results {
		old := prev.Lists[name]
		if l == nil {
			l = old
		}

		if l == nil {
			continue
		}

		next.Lists[name] = l
		if l != old {
			changed = append(changed, name)
		}
	}

	for name, old := range prev.Lists {
		if next.Lists[name] != old {
			if next.Lists[name] == nil {
				changed = append(changed, name)
			}

			m.unref(ctx, old)
		}
	}

	if len(changed) == 0 {
		return true
	}

	slices.Sort(changed)
	m.current.Store(next)

	m.logger.InfoContext(ctx, "published rules", cbevent.KeyGeneration, gen, "changed", changed)

	e := &UpdateEvent{
		Rules:   next,
		Changed: changed,
	}
	m.subs.Range(func(s *Subscription) (cont bool) {
		s.deliver(e)

		return true
	})

	return true
}

// Shutdown waits for the scheduled compilations and closes the published
// lists.  The manager must not be used after that.
func (m *Manager) Shutdown(ctx context.Context) (err error) {
	m.mu.Lock()
	last := m.pending
	if last == nil {
		last = m.running
	}
	m.mu.Unlock()

	if last != nil {
		err = last.Wait(ctx)
		if err != nil {
			return fmt.Errorf("waiting for compilation: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current.Swap(&Rules{
		Lists:      map[string]*List{},
		Generation: m.generation,
	})
	for _, l := range prev.Lists {
		m.unref(ctx, l)
	}

	m.subs.Range(func(s *Subscription) (cont bool) {
		close(s.updates)

		return true
	})
	m.subs = container.NewMapSet[*Subscription]()

	return nil
}
