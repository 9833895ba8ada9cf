package cmd

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AdguardTeam/TrackerShield/internal/configmgr"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		want       *options
		name       string
		wantErrMsg string
		args       []string
	}{{
		want: &options{
			confFile: defaultConfFile,
		},
		name:       "defaults",
		wantErrMsg: "",
		args:       nil,
	}, {
		want: &options{
			confFile:    "/etc/trackershield.yaml",
			pidFile:     "/run/trackershield.pid",
			checkConfig: true,
			verbose:     true,
		},
		name:       "all",
		wantErrMsg: "",
		args: []string{
			"--config", "/etc/trackershield.yaml",
			"--pidfile", "/run/trackershield.pid",
			"--check-config",
			"-v",
		},
	}, {
		want: &options{
			confFile: "a.yaml",
			version:  true,
		},
		name:       "short",
		wantErrMsg: "",
		args:       []string{"-c", "a.yaml", "--version"},
	}, {
		want:       nil,
		name:       "extra_args",
		wantErrMsg: `unexpected arguments: ["extra"]`,
		args:       []string{"extra"},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts, err := parseOptions("trackershield", tc.args, &bytes.Buffer{})
			if tc.wantErrMsg != "" {
				require.Error(t, err)
				assert.Equal(t, tc.wantErrMsg, err.Error())

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, opts)
		})
	}

	t.Run("help", func(t *testing.T) {
		t.Parallel()

		out := &bytes.Buffer{}
		_, err := parseOptions("trackershield", []string{"-h"}, out)
		require.ErrorIs(t, err, flag.ErrHelp)

		assert.Contains(t, out.String(), "-pidfile")

		code, needExit := processOptions(nil, err)
		assert.True(t, needExit)
		assert.Equal(t, statusSuccess, code)
	})

	t.Run("no_exit", func(t *testing.T) {
		t.Parallel()

		code, needExit := processOptions(&options{confFile: defaultConfFile}, nil)
		assert.False(t, needExit)
		assert.Equal(t, statusSuccess, code)
	})
}

func TestReadDataset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fileName := filepath.Join(dir, "tds.json")
	data := []byte(`{"trackers": {}}`)
	require.NoError(t, os.WriteFile(fileName, data, 0o600))

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		src, err := readDataset(fileName, datasize.KB)
		require.NoError(t, err)

		assert.Equal(t, data, src.Data)
		assert.Equal(t, contentEtag(data), src.Etag)
		assert.True(t, strings.HasPrefix(src.Etag, "sha256-"))
		assert.Len(t, src.Etag, len("sha256-")+2*etagLen)
	})

	t.Run("too_large", func(t *testing.T) {
		t.Parallel()

		_, err := readDataset(fileName, 4)
		assert.Error(t, err)
	})

	t.Run("optional_missing", func(t *testing.T) {
		t.Parallel()

		src, err := readOptionalDataset(filepath.Join(dir, "none.json"), datasize.KB)
		require.NoError(t, err)
		assert.Nil(t, src)

		src, err = readOptionalDataset("", datasize.KB)
		require.NoError(t, err)
		assert.Nil(t, src)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		_, err := readDataset(filepath.Join(dir, "none.json"), datasize.KB)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestContentEtag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, contentEtag([]byte("a")), contentEtag([]byte("a")))
	assert.NotEqual(t, contentEtag([]byte("a")), contentEtag([]byte("b")))
}

func TestWants(t *testing.T) {
	t.Parallel()

	abs, err := filepath.Abs("tds.json")
	require.NoError(t, err)

	assert.True(t, wants(nil, "tds.json"))
	assert.True(t, wants([]string{abs}, "tds.json"))
	assert.False(t, wants([]string{abs}, "config.json"))
	assert.False(t, wants(nil, ""))
}

func TestNewBaseLogger(t *testing.T) {
	t.Parallel()

	c := configmgr.Default().Log
	c.File = filepath.Join(t.TempDir(), "trackershield.log")

	l, closer := newBaseLogger(c, true)
	require.NotNil(t, closer)

	l.Debug("test message")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(c.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "test message")
}
