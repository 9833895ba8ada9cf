package privacyconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// ManagerConfig is the configuration structure for a *Manager.
type ManagerConfig struct {
	// Logger is used to log the operation of the manager.  It must not be nil.
	Logger *slog.Logger

	// Reporter receives the parsing errors.  It must not be nil.
	Reporter cbevent.Reporter

	// EmbeddedEtag is the etag of Embedded.
	EmbeddedEtag string

	// Embedded is the configuration shipped with the application.  It must be
	// a valid document.
	Embedded []byte
}

// Manager holds the current privacy-configuration [Snapshot] and replaces it
// atomically on reloads.
type Manager struct {
	logger       *slog.Logger
	reporter     cbevent.Reporter
	parser       *parser
	current      *atomic.Pointer[Snapshot]
	embeddedEtag string
	embedded     []byte
}

// NewManager returns a new manager initialized with the embedded
// configuration.
func NewManager(ctx context.Context, c *ManagerConfig) (m *Manager, err error) {
	m = &Manager{
		logger:       c.Logger,
		reporter:     c.Reporter,
		parser:       &parser{logger: c.Logger},
		current:      &atomic.Pointer[Snapshot]{},
		embeddedEtag: c.EmbeddedEtag,
		embedded:     c.Embedded,
	}

	s, err := m.parser.parse(ctx, c.EmbeddedEtag, c.Embedded, OriginEmbedded)
	if err != nil {
		return nil, fmt.Errorf("embedded configuration: %w", err)
	}

	m.current.Store(s)

	return m, nil
}

// Current returns the current snapshot.  It is never nil.
func (m *Manager) Current() (s *Snapshot) {
	return m.current.Load()
}

// Reload replaces the current snapshot with the one parsed from data.  If data
// is nil, the embedded configuration is used.  If data cannot be parsed, the
// error is reported, the current snapshot is kept, and the origin of the kept
// snapshot is returned, with [OriginEmbedded] turned into
// [OriginEmbeddedFallback].
func (m *Manager) Reload(ctx context.Context, etag string, data []byte) (o Origin) {
	o = OriginDownloaded
	if data == nil {
		etag, data, o = m.embeddedEtag, m.embedded, OriginEmbedded
	}

	s, err := m.parser.parse(ctx, etag, data, o)
	if err != nil {
		cbevent.ReportError(ctx, m.reporter, cbevent.KindConfigParse, "", err)

		prev := m.Current()
		m.logger.WarnContext(
			ctx,
			"keeping previous privacy configuration",
			cbevent.KeyIdentifier, prev.Identifier(),
			slogutil.KeyError, err,
		)

		if prev.Origin() == OriginEmbedded {
			return OriginEmbeddedFallback
		}

		return prev.Origin()
	}

	m.current.Store(s)
	m.logger.InfoContext(
		ctx,
		"privacy configuration loaded",
		cbevent.KeyIdentifier, s.Identifier(),
		cbevent.KeyOrigin, o,
	)

	return o
}
