package configmgr_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/TrackerShield/internal/configmgr"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes data into a temporary configuration file and returns its
// path.
func writeConfig(t *testing.T, data string) (fileName string) {
	t.Helper()

	fileName = filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(fileName, []byte(data), 0o600)
	require.NoError(t, err)

	return fileName
}

// minimalConfig is a configuration with only the required properties.
const minimalConfig = `
schema_version: 1
data_dir: /var/lib/trackershield
tracker_data:
  embedded: /usr/share/trackershield/tds.json
privacy_config:
  embedded: /usr/share/trackershield/config.json
`

func TestRead(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		c, err := configmgr.Read(writeConfig(t, minimalConfig))
		require.NoError(t, err)

		assert.Equal(t, "/var/lib/trackershield", c.DataDir)
		assert.Equal(t, "/usr/share/trackershield/tds.json", c.TrackerData.Embedded)
		assert.Equal(t, configmgr.DefaultDatasetMaxSize, c.TrackerData.MaxSize)
		assert.Equal(t, configmgr.StoreFile, c.Rules.Store)
		assert.Equal(t, configmgr.DefaultStalenessWindow, time.Duration(c.Rules.StalenessWindow))
		assert.Equal(t, configmgr.DefaultCompileTimeout, time.Duration(c.Rules.CompileTimeout))
		assert.False(t, c.HTTP.Enabled)
		assert.False(t, c.WatchFiles)
	})

	t.Run("full", func(t *testing.T) {
		t.Parallel()

		const conf = minimalConfig + `
log:
  file: /var/log/trackershield.log
  max_size: 10MB
  max_age: 72h
  max_backups: 1
  compress: true
  verbose: true
http:
  enabled: true
  address: 127.0.0.1:8080
unprotected:
  import_plist: /tmp/unprotected.plist
rules:
  store: dns
  staleness_window: 24h
  compile_timeout: 5s
surrogates: /usr/share/trackershield/surrogates.txt
watch_files: true
`

		c, err := configmgr.Read(writeConfig(t, conf))
		require.NoError(t, err)

		assert.Equal(t, 10*datasize.MB, c.Log.MaxSize)
		assert.Equal(t, 72*time.Hour, time.Duration(c.Log.MaxAge))
		assert.True(t, c.Log.Verbose)
		assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:8080"), c.HTTP.Address)
		assert.Equal(t, "/tmp/unprotected.plist", c.Unprotected.ImportPlist)
		assert.Equal(t, configmgr.StoreDNS, c.Rules.Store)
		assert.Equal(t, 24*time.Hour, time.Duration(c.Rules.StalenessWindow))

		// Unset properties of a section keep their defaults.
		assert.Equal(t, configmgr.DefaultListMaxSize, c.Rules.MaxListSize)
		assert.True(t, c.WatchFiles)
	})
}

func TestRead_errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		wantErr error
		name    string
		conf    string
	}{{
		wantErr: errors.ErrEmptyValue,
		name:    "no_data_dir",
		conf: `
schema_version: 1
tracker_data:
  embedded: tds.json
privacy_config:
  embedded: config.json
`,
	}, {
		wantErr: errors.ErrBadEnumValue,
		name:    "bad_schema",
		conf: `
schema_version: 2
data_dir: data
`,
	}, {
		wantErr: errors.ErrBadEnumValue,
		name:    "bad_store",
		conf: minimalConfig + `
rules:
  store: memory
`,
	}, {
		wantErr: errors.ErrNotPositive,
		name:    "zero_staleness",
		conf: minimalConfig + `
rules:
  staleness_window: 0s
`,
	}, {
		wantErr: errors.ErrNoValue,
		name:    "no_http_address",
		conf: minimalConfig + `
http:
  enabled: true
`,
	}, {
		wantErr: nil,
		name:    "unknown_field",
		conf: minimalConfig + `
unknown: 1
`,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := configmgr.Read(writeConfig(t, tc.conf))
			require.Error(t, err)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestRead_notExist(t *testing.T) {
	t.Parallel()

	_, err := configmgr.Read(filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
