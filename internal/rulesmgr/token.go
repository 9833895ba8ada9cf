package rulesmgr

import (
	"context"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Token is the completion token of a scheduled compilation pass.
type Token struct {
	done       chan struct{}
	generation uint64
}

// newToken returns a new token for the pass with the given generation.
func newToken(gen uint64) (t *Token) {
	return &Token{
		done:       make(chan struct{}),
		generation: gen,
	}
}

// Generation returns the generation of the pass.
func (t *Token) Generation() (gen uint64) {
	return t.generation
}

// Done returns a channel that is closed when the pass is finished, whether it
// has published new rules or not.
func (t *Token) Done() (done <-chan struct{}) {
	return t.done
}

// Wait waits until the pass is finished or ctx is done.
func (t *Token) Wait(ctx context.Context) (err error) {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleCompilation schedules a compilation pass with the current inputs and
// returns immediately.  If a pass is running, the new pass runs after it, and
// all calls made while it is waiting return the same token.  ctx is only used
// for its values; the pass is never canceled.
func (m *Manager) ScheduleCompilation(ctx context.Context) (tok *Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running == nil {
		m.generation++
		m.running = newToken(m.generation)

		go m.run(context.WithoutCancel(ctx), m.running)

		return m.running
	}

	if m.pending == nil {
		m.generation++
		m.pending = newToken(m.generation)

		m.logger.DebugContext(ctx, "compilation pending", cbevent.KeyGeneration, m.generation)
	}

	return m.pending
}

// run runs the pass of tok and then the pending passes until there are none.
// It is intended to be used as a goroutine.
func (m *Manager) run(ctx context.Context, tok *Token) {
	for tok != nil {
		m.runPass(ctx, tok)
		tok = m.next(tok)
	}
}

// runPass runs a single compilation pass and recovers from panics in it.
func (m *Manager) runPass(ctx context.Context, tok *Token) {
	l := m.logger.With(cbevent.KeyGeneration, tok.generation)
	defer slogutil.RecoverAndLog(ctx, l)

	l.DebugContext(ctx, "compilation started")
	m.compile(ctx, tok.generation)
	l.DebugContext(ctx, "compilation finished")
}

// next marks tok as finished and returns the pending token, which becomes the
// running one.
func (m *Manager) next(tok *Token) (pending *Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	close(tok.done)

	pending = m.pending
	m.pending = nil
	m.running = pending

	return pending
}
