// Package cbevent contains the observability events of the content-blocking
// subsystem as well as the logging constants shared by its packages.
package cbevent

import (
	"context"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Kind is the kind of a content-blocking event.
type Kind string

// Kind values.  The first four are the recoverable error kinds; the others are
// reported for diagnostics.
const (
	// KindDatasetDecode is reported when a tracker-data document cannot be
	// decoded.
	KindDatasetDecode Kind = "dataset_decode"

	// KindCompilationEncode is reported when a rule set cannot be encoded into
	// the engine input format.
	KindCompilationEncode Kind = "compilation_encode"

	// KindEngineRegistration is reported when the rule-list store rejects an
	// encoded rule set.
	KindEngineRegistration Kind = "engine_registration"

	// KindConfigParse is reported when a privacy-configuration document cannot
	// be parsed.
	KindConfigParse Kind = "config_parse"

	// KindTrackerDataValidation is reported for every record dropped while
	// loading tracker data.
	KindTrackerDataValidation Kind = "tracker_data_validation"

	// KindTempListCompilation is reported when a rule list only compiles
	// without the temporary list of the privacy configuration.
	KindTempListCompilation Kind = "temp_list_compilation"

	// KindAllowListCompilation is reported when a rule list only compiles
	// without the tracker allow-list of the privacy configuration.
	KindAllowListCompilation Kind = "allow_list_compilation"

	// KindUnprotectedCompilation is reported when a rule list only compiles
	// without the domains the user has disabled protection for.
	KindUnprotectedCompilation Kind = "unprotected_compilation"

	// KindFallbackCompilation is reported when the compilation with the
	// embedded dataset fails as well.
	KindFallbackCompilation Kind = "fallback_compilation"

	// KindCompilationTime is reported after every successful compilation.  It
	// carries no error.
	KindCompilationTime Kind = "compilation_time"
)

// Event is a single content-blocking event.
type Event struct {
	// Err is the error that caused the event.  It is nil for
	// [KindCompilationTime].
	Err error

	// Kind is the kind of the event.
	Kind Kind

	// Scope is the name of the affected rule list or data set, if any.
	Scope string

	// Duration is the duration of the compilation for [KindCompilationTime].
	Duration time.Duration
}

// Reporter is the observability collaborator of the content-blocking
// subsystem.
type Reporter interface {
	// Report handles e.  e must not be nil.  Report must be safe for
	// concurrent use and must not block for long.
	Report(ctx context.Context, e *Event)
}

// EmptyReporter is a [Reporter] that does nothing.
type EmptyReporter struct{}

// type check
var _ Reporter = EmptyReporter{}

// Report implements the [Reporter] interface for EmptyReporter.
func (EmptyReporter) Report(_ context.Context, _ *Event) {}

// LogReporter is a [Reporter] that writes events to a logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a new properly initialized *LogReporter.  l must not
// be nil.
func NewLogReporter(l *slog.Logger) (r *LogReporter) {
	return &LogReporter{
		logger: l,
	}
}

// type check
var _ Reporter = (*LogReporter)(nil)

// Report implements the [Reporter] interface for *LogReporter.
func (r *LogReporter) Report(ctx context.Context, e *Event) {
	if e.Err == nil {
		r.logger.DebugContext(
			ctx,
			"content blocking event",
			KeyKind, e.Kind,
			KeyRuleList, e.Scope,
			"duration", e.Duration,
		)

		return
	}

	r.logger.WarnContext(
		ctx,
		"content blocking error",
		KeyKind, e.Kind,
		KeyRuleList, e.Scope,
		slogutil.KeyError, e.Err,
	)
}

// MultiReporter is a [Reporter] that passes events to every reporter it
// contains in order.
type MultiReporter []Reporter

// type check
var _ Reporter = MultiReporter(nil)

// Report implements the [Reporter] interface for MultiReporter.
func (m MultiReporter) Report(ctx context.Context, e *Event) {
	for _, r := range m {
		r.Report(ctx, e)
	}
}

// ReportError is a helper that reports err with the given kind and scope.  err
// must not be nil.
func ReportError(ctx context.Context, r Reporter, kind Kind, scope string, err error) {
	r.Report(ctx, &Event{
		Err:   err,
		Kind:  kind,
		Scope: scope,
	})
}
