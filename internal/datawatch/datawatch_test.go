package datawatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/TrackerShield/internal/datawatch"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

func TestWatcher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tracked := filepath.Join(dir, "tds.json")
	untracked := filepath.Join(dir, "other.json")

	w, err := datawatch.New(slogutil.NewDiscardLogger())
	require.NoError(t, err)

	// The file doesn't exist yet.
	require.NoError(t, w.Add(tracked))

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))

	err = os.WriteFile(untracked, []byte("{}"), 0o600)
	require.NoError(t, err)

	err = os.WriteFile(tracked, []byte("{}"), 0o600)
	require.NoError(t, err)

	e, ok := testutil.RequireReceive(t, w.Events(), testTimeout)
	require.True(t, ok)

	assert.Equal(t, []string{tracked}, e.Names)

	require.NoError(t, w.Remove(tracked))
	require.NoError(t, w.Remove(tracked))

	require.NoError(t, w.Shutdown(ctx))

	// Drain the events that may have been sent before the shutdown.
	for {
		_, ok = testutil.RequireReceive(t, w.Events(), testTimeout)
		if !ok {
			break
		}
	}
}

func TestEmpty(t *testing.T) {
	t.Parallel()

	var w datawatch.Interface = datawatch.Empty{}

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Add("tds.json"))
	require.NoError(t, w.Remove("tds.json"))

	assert.Nil(t, w.Events())
	assert.NoError(t, w.Shutdown(ctx))
}
