package cbevent_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingReporter is a [cbevent.Reporter] that saves the kinds of the
// reported events.
type recordingReporter struct {
	kinds []cbevent.Kind
}

// Report implements the [cbevent.Reporter] interface for *recordingReporter.
func (r *recordingReporter) Report(_ context.Context, e *cbevent.Event) {
	r.kinds = append(r.kinds, e.Kind)
}

func TestMultiReporter(t *testing.T) {
	t.Parallel()

	first, second := &recordingReporter{}, &recordingReporter{}
	m := cbevent.MultiReporter{first, cbevent.EmptyReporter{}, second}

	const testError errors.Error = "test error"

	ctx := context.Background()
	cbevent.ReportError(ctx, m, cbevent.KindConfigParse, "", testError)
	m.Report(ctx, &cbevent.Event{Kind: cbevent.KindCompilationTime})

	want := []cbevent.Kind{cbevent.KindConfigParse, cbevent.KindCompilationTime}
	assert.Equal(t, want, first.kinds)
	assert.Equal(t, want, second.kinds)
}

func TestLogReporter(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	l := slogutil.New(&slogutil.Config{
		Output: buf,
		Format: slogutil.FormatText,
		Level:  slogutil.LevelDebug,
	})

	r := cbevent.NewLogReporter(l)

	const testError errors.Error = "bad json"

	ctx := context.Background()
	cbevent.ReportError(ctx, r, cbevent.KindDatasetDecode, "tds", testError)

	out := buf.String()
	require.Contains(t, out, "content blocking error")
	assert.Contains(t, out, "kind=dataset_decode")
	assert.Contains(t, out, "rule_list=tds")
	assert.Contains(t, out, "bad json")

	buf.Reset()
	r.Report(ctx, &cbevent.Event{Kind: cbevent.KindCompilationTime, Scope: "tds"})
	assert.Contains(t, buf.String(), "kind=compilation_time")
}
