// Package configmgr defines the on-disk configuration of the content-blocking
// service.
package configmgr

import (
	"fmt"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Default values of the optional properties.
const (
	DefaultCacheSize       = 1024
	DefaultCompileTimeout  = 30 * time.Second
	DefaultDatasetMaxSize  = 32 * datasize.MB
	DefaultListMaxSize     = 64 * datasize.MB
	DefaultLogMaxAge       = 30 * timeutil.Day
	DefaultLogMaxBackups   = 3
	DefaultLogMaxSize      = 100 * datasize.MB
	DefaultStalenessWindow = 7 * timeutil.Day
)

// Default returns the configuration with the default values of the optional
// properties.  The required properties are empty.
func Default() (c *Config) {
	return &Config{
		Log: &LogConfig{
			MaxSize:    DefaultLogMaxSize,
			MaxAge:     timeutil.Duration(DefaultLogMaxAge),
			MaxBackups: DefaultLogMaxBackups,
		},
		HTTP: &HTTPConfig{},
		TrackerData: &DatasetConfig{
			MaxSize: DefaultDatasetMaxSize,
		},
		PrivacyConfig: &DatasetConfig{
			MaxSize: DefaultDatasetMaxSize,
		},
		Unprotected: &UnprotectedConfig{},
		Rules: &RulesConfig{
			Store:           StoreFile,
			MaxListSize:     DefaultListMaxSize,
			StalenessWindow: timeutil.Duration(DefaultStalenessWindow),
			CompileTimeout:  timeutil.Duration(DefaultCompileTimeout),
			CacheSize:       DefaultCacheSize,
		},
		SchemaVersion: CurrentSchemaVersion,
	}
}

// Read reads, decodes, and validates the configuration file with the given
// name.  The properties missing in the file have their default values.
func Read(fileName string) (c *Config, err error) {
	defer func() { err = errors.Annotate(err, "reading config: %w") }()

	f, err := os.Open(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	c = Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	err = dec.Decode(c)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	err = c.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}

	return c, nil
}
