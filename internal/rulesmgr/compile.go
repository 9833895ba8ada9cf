package rulesmgr

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
	"github.com/AdguardTeam/TrackerShield/internal/rulestore"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// listInput is the input of a single rule list.
type listInput struct {
	data *tds.DataSet
	name string
}

// splitLists returns the rule lists compiled from ds.  When click-to-load is
// enabled, the trackers of its entities are moved into a separate list.
func splitLists(ds *tds.DataSet, pc *privacyconfig.Snapshot) (lists []*listInput) {
	entities := pc.ClickToLoadEntities()
	if len(entities) == 0 {
		return []*listInput{{data: ds, name: ListNameTDS}}
	}

	rest, only := ds.Split(entities)

	return []*listInput{
		{data: rest, name: ListNameTDS},
		{data: only, name: ListNameClickToLoad},
	}
}

// compile runs a compilation pass with the given generation and publishes the
// results.  The lists are compiled in parallel.
func (m *Manager) compile(ctx context.Context, gen uint64) {
	pc := m.privacy.Current()
	base := &rulecompiler.Input{
		Surrogates:      m.surrogates,
		Exceptions:      pc.Exceptions(privacyconfig.FeatureContentBlocking),
		TempUnprotected: pc.TempUnprotectedDomains(),
		UserUnprotected: m.unprotected.Domains(),
		AllowList:       pc.AllowList(),
	}

	lists := splitLists(m.trackers.Current(), pc)
	compiled := make([]*List, len(lists))

	g := &errgroup.Group{}
	for i, li := range lists {
		g.Go(func() (err error) {
			defer slogutil.RecoverAndLog(ctx, m.logger)

			compiled[i], err = m.compileList(ctx, li, base, pc)

			return err
		})
	}

	err := g.Wait()
	if err != nil {
		m.logger.WarnContext(
			ctx,
			"keeping previous rules for failed lists",
			cbevent.KeyGeneration, gen,
			slogutil.KeyError, err,
		)
	}

	results := make(map[string]*List, len(lists))
	for i, li := range lists {
		results[li.name] = compiled[i]
	}

	if m.publish(ctx, gen, results) {
		m.updateFreshness(ctx, results)
	}
}

// compileList returns the list for li.  The parts of base known to break li
// are skipped.  If the compilation fails, it retries without the parts of the
// input one by one and then with the embedded tracker data.  The errors are
// reported.
func (m *Manager) compileList(
	ctx context.Context,
	li *listInput,
	base *rulecompiler.Input,
	pc *privacyconfig.Snapshot,
) (l *List, err error) {
	in := m.broken.filter(li.name, base)

	l, err = m.obtain(ctx, li, in)
	if err == nil {
		return l, nil
	}

	cbevent.ReportError(ctx, m.reporter, errorKind(err), li.name, err)

	l = m.retryWithoutParts(ctx, li, in, err)
	if l != nil {
		return l, nil
	}

	if li.data.Origin() == tds.OriginEmbedded {
		return nil, err
	}

	l, fbErr := m.obtainFallback(ctx, li.name, in, pc)
	if fbErr != nil {
		cbevent.ReportError(ctx, m.reporter, cbevent.KindFallbackCompilation, li.name, fbErr)

		return nil, errors.Join(err, fbErr)
	}

	m.logger.WarnContext(
		ctx,
		"using rules compiled from embedded data",
		cbevent.KeyRuleList, li.name,
		slogutil.KeyError, err,
	)

	return l, nil
}

// retryWithoutParts drops the non-empty parts of in in the order of
// [rulecompiler.Parts] until li compiles.  The part dropped last is then
// marked broken and reported with the error of the previous attempt.  l is
// nil if li doesn't compile without all of them.
//
// The parts dropped before the broken one are used again by the next pass.
func (m *Manager) retryWithoutParts(
	ctx context.Context,
	li *listInput,
	in *rulecompiler.Input,
	cause error,
) (l *List) {
	for _, p := range rulecompiler.Parts {
		id := rulecompiler.PartIdentifier(in, p)
		if id == "" {
			continue
		}

		in = rulecompiler.WithoutPart(in, p)

		var err error
		l, err = m.obtain(ctx, li, in)
		if err != nil {
			cause = err

			continue
		}

		m.broken.mark(li.name, p, id)
		cbevent.ReportError(ctx, m.reporter, partKinds[p], li.name, cause)

		m.logger.WarnContext(
			ctx,
			"skipping broken input",
			cbevent.KeyRuleList, li.name,
			"part", p,
			cbevent.KeyIdentifier, id,
			slogutil.KeyError, cause,
		)

		return l
	}

	return nil
}

// obtain returns the list for li.  It reuses the published list or the list
// in the store if their inputs are the same and compiles a new one otherwise.
func (m *Manager) obtain(
	ctx context.Context,
	li *listInput,
	base *rulecompiler.Input,
) (l *List, err error) {
	in := *base
	in.TrackerData = li.data

	id := rulecompiler.Identifier(&in)
	if prev := m.current.Load().List(li.name); prev != nil && prev.Identifier == id {
		return prev, nil
	}

	l = m.lookupFresh(ctx, li, id)
	if l != nil {
		return l, nil
	}

	return m.register(ctx, li.name, &in)
}

// obtainFallback returns the list with the given name for the embedded
// tracker data.
func (m *Manager) obtainFallback(
	ctx context.Context,
	name string,
	base *rulecompiler.Input,
	pc *privacyconfig.Snapshot,
) (l *List, err error) {
	ds, err := m.trackers.Embedded()
	if err != nil {
		return nil, fmt.Errorf("embedded tracker data: %w", err)
	}

	for _, li := range splitLists(ds, pc) {
		if li.name == name {
			return m.obtain(ctx, li, base)
		}
	}

	// Never happens, since the names of the lists only depend on pc.
	panic(fmt.Errorf("no fallback list %q", name))
}

// register compiles in, encodes it, and registers it in the store.  It reports
// the duration of the compilation.
func (m *Manager) register(
	ctx context.Context,
	name string,
	in *rulecompiler.Input,
) (l *List, err error) {
	start := m.clock.Now()

	rs := m.compiler.Compile(ctx, in)
	encoded, err := rs.Encode()
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	cl, err := m.store.Compile(ctx, rs.Identifier, encoded)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	l, err = m.newList(name, rs.Identifier, cl, in.TrackerData)
	if err != nil {
		return nil, errors.WithDeferred(err, cl.Close())
	}

	dur := m.clock.Now().Sub(start)
	m.reporter.Report(ctx, &cbevent.Event{
		Kind:     cbevent.KindCompilationTime,
		Scope:    name,
		Duration: dur,
	})

	m.logger.InfoContext(
		ctx,
		"compiled rule list",
		cbevent.KeyRuleList, name,
		cbevent.KeyIdentifier, rs.Identifier,
		"rules", len(rs.Rules),
		"duration", dur,
	)

	return l, nil
}

// lookupFresh returns the list for li from the store if the freshness
// metadata shows that it has been compiled with id recently.  l is nil if
// there is no such list.
func (m *Manager) lookupFresh(ctx context.Context, li *listInput, id string) (l *List) {
	if !m.freshness.isFresh(li.name, id) {
		return nil
	}

	cl, err := m.store.Lookup(ctx, id)
	if err != nil {
		m.logger.WarnContext(
			ctx,
			"looking up stored list",
			cbevent.KeyRuleList, li.name,
			cbevent.KeyIdentifier, id,
			slogutil.KeyError, err,
		)

		return nil
	} else if cl == nil {
		return nil
	}

	l, err = m.newList(li.name, id, cl, li.data)
	if err != nil {
		err = errors.WithDeferred(err, cl.Close())
		m.logger.WarnContext(ctx, "using stored list", slogutil.KeyError, err)

		return nil
	}

	m.logger.InfoContext(
		ctx,
		"reusing stored rule list",
		cbevent.KeyRuleList, li.name,
		cbevent.KeyIdentifier, id,
	)

	return l
}

// newList returns a new list with a single reference owned by the manager.
func (m *Manager) newList(
	name string,
	id string,
	cl rulestore.CompiledList,
	ds *tds.DataSet,
) (l *List, err error) {
	versionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating version id: %w", err)
	}

	refs := &atomic.Int64{}
	refs.Store(1)

	return &List{
		Compiled:    cl,
		TrackerData: ds,
		CompiledAt:  m.clock.Now(),
		refs:        refs,
		Name:        name,
		Identifier:  id,
		VersionID:   versionID,
	}, nil
}

// errorKind returns the event kind for a compilation error.
func errorKind(err error) (k cbevent.Kind) {
	encErr := &rulecompiler.EncodeError{}
	if errors.As(err, &encErr) {
		return cbevent.KindCompilationEncode
	}

	return cbevent.KindEngineRegistration
}
