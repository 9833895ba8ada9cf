package configmgr

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
)

// Configuration Structures

// Config is the top-level on-disk configuration structure.
type Config struct {
	Log           *LogConfig         `yaml:"log"`
	HTTP          *HTTPConfig        `yaml:"http"`
	TrackerData   *DatasetConfig     `yaml:"tracker_data"`
	PrivacyConfig *DatasetConfig     `yaml:"privacy_config"`
	Unprotected   *UnprotectedConfig `yaml:"unprotected"`
	Rules         *RulesConfig       `yaml:"rules"`
	DataDir       string             `yaml:"data_dir"`
	Surrogates    string             `yaml:"surrogates"`
	SchemaVersion int                `yaml:"schema_version"`
	WatchFiles    bool               `yaml:"watch_files"`
}

// CurrentSchemaVersion is the only supported schema version.
const CurrentSchemaVersion = 1

// errNoConf is returned when a required section is missing.
const errNoConf errors.Error = "configuration not found"

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	if c.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf(
			"schema_version: %w: got %d, want %d",
			errors.ErrBadEnumValue,
			c.SchemaVersion,
			CurrentSchemaVersion,
		)
	}

	errs := []error{
		validate.NotEmpty("data_dir", c.DataDir),
	}

	// Keep this in the same order as the fields in the config.
	validators := []struct {
		validate func() (err error)
		name     string
	}{{
		validate: c.Log.validate,
		name:     "log",
	}, {
		validate: c.HTTP.validate,
		name:     "http",
	}, {
		validate: c.TrackerData.validate,
		name:     "tracker_data",
	}, {
		validate: c.PrivacyConfig.validate,
		name:     "privacy_config",
	}, {
		validate: c.Unprotected.validate,
		name:     "unprotected",
	}, {
		validate: c.Rules.validate,
		name:     "rules",
	}}

	for _, v := range validators {
		err = v.validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.name, err))
		}
	}

	return errors.Join(errs...)
}

// LogConfig is the on-disk logging configuration.
type LogConfig struct {
	// File is the path to the log file.  If it is empty, logs are written to
	// stderr.
	File string `yaml:"file"`

	// MaxSize is the maximum size of a log file before it's rotated.
	MaxSize datasize.ByteSize `yaml:"max_size"`

	// MaxAge is the maximum duration for which rotated files are kept.
	MaxAge timeutil.Duration `yaml:"max_age"`

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int `yaml:"max_backups"`

	Compress bool `yaml:"compress"`
	Verbose  bool `yaml:"verbose"`
}

// validate returns an error if the logging configuration is invalid.
func (c *LogConfig) validate() (err error) {
	if c == nil {
		return errNoConf
	} else if c.File == "" {
		return nil
	}

	return errors.Join(
		validate.Positive("max_size", c.MaxSize),
		validate.NotNegative("max_age", time.Duration(c.MaxAge)),
		validate.NotNegative("max_backups", c.MaxBackups),
	)
}

// HTTPConfig is the on-disk configuration of the HTTP endpoint serving the
// metrics and the rule-list information.
type HTTPConfig struct {
	Address netip.AddrPort `yaml:"address"`
	Enabled bool           `yaml:"enabled"`
}

// validate returns an error if the HTTP configuration is invalid.
func (c *HTTPConfig) validate() (err error) {
	switch {
	case c == nil:
		return errNoConf
	case !c.Enabled:
		return nil
	case !c.Address.IsValid():
		return fmt.Errorf("address: %w", errors.ErrNoValue)
	default:
		return nil
	}
}

// DatasetConfig is the on-disk configuration of a dataset.
type DatasetConfig struct {
	// Embedded is the path to the dataset shipped with the application.
	Embedded string `yaml:"embedded"`

	// Downloaded is the path to the dataset written by the fetcher, if any.
	Downloaded string `yaml:"downloaded"`

	// MaxSize is the maximum size of a dataset file.
	MaxSize datasize.ByteSize `yaml:"max_size"`
}

// validate returns an error if the dataset configuration is invalid.
func (c *DatasetConfig) validate() (err error) {
	if c == nil {
		return errNoConf
	}

	return errors.Join(
		validate.NotEmpty("embedded", c.Embedded),
		validate.Positive("max_size", c.MaxSize),
	)
}

// UnprotectedConfig is the on-disk configuration of the user-unprotected
// domains.
type UnprotectedConfig struct {
	// ImportPlist is the path to a property list with the domains to import on
	// startup, if any.
	ImportPlist string `yaml:"import_plist"`
}

// validate returns an error if the unprotected-domains configuration is
// invalid.
func (c *UnprotectedConfig) validate() (err error) {
	if c == nil {
		return errNoConf
	}

	return nil
}

// Rule-store kinds.
const (
	StoreFile = "file"
	StoreDNS  = "dns"
)

// RulesConfig is the on-disk configuration of the compiled rules.
type RulesConfig struct {
	// Store is the kind of the rule store, [StoreFile] or [StoreDNS].
	Store string `yaml:"store"`

	// MaxListSize is the maximum size of an encoded list in the file store.
	MaxListSize datasize.ByteSize `yaml:"max_list_size"`

	// StalenessWindow is the duration after which an unverified compiled
	// list is compiled again.
	StalenessWindow timeutil.Duration `yaml:"staleness_window"`

	// CompileTimeout is the timeout of the initial compilation.
	CompileTimeout timeutil.Duration `yaml:"compile_timeout"`

	// CacheSize is the size of the host lookup cache of the tracker data.
	CacheSize int `yaml:"cache_size"`
}

// validate returns an error if the rules configuration is invalid.
func (c *RulesConfig) validate() (err error) {
	if c == nil {
		return errNoConf
	}

	var storeErr error
	switch c.Store {
	case StoreFile, StoreDNS:
		// Go on.
	default:
		storeErr = fmt.Errorf("store: %w: %q", errors.ErrBadEnumValue, c.Store)
	}

	return errors.Join(
		storeErr,
		validate.Positive("max_list_size", c.MaxListSize),
		validate.Positive("staleness_window", time.Duration(c.StalenessWindow)),
		validate.Positive("compile_timeout", time.Duration(c.CompileTimeout)),
		validate.NotNegative("cache_size", c.CacheSize),
	)
}
