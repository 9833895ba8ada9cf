package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/AdguardTeam/TrackerShield/internal/attribution"
	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/TrackerShield/internal/configmgr"
	"github.com/AdguardTeam/TrackerShield/internal/datawatch"
	"github.com/AdguardTeam/TrackerShield/internal/metrics"
	"github.com/AdguardTeam/TrackerShield/internal/privacyconfig"
	"github.com/AdguardTeam/TrackerShield/internal/rulecompiler"
	"github.com/AdguardTeam/TrackerShield/internal/rulesmgr"
	"github.com/AdguardTeam/TrackerShield/internal/rulestore"
	"github.com/AdguardTeam/TrackerShield/internal/surrogate"
	"github.com/AdguardTeam/TrackerShield/internal/tds"
	"github.com/AdguardTeam/TrackerShield/internal/unprotected"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// File names inside the data directory.
const (
	dirRules          = "rules"
	fileFreshness     = "freshness.json"
	fileUnprotectedDB = "unprotected.db"
)

// dnsListID is the ID of the rule lists inside the DNS filtering engines.
const dnsListID = 1

// app contains the components of the content-blocking service.
type app struct {
	logger      *slog.Logger
	conf        *configmgr.Config
	metrics     *metrics.Reporter
	registry    *tds.Registry
	privacy     *privacyconfig.Manager
	unprotected *unprotected.Storage
	rules       *rulesmgr.Manager
	watcher     datawatch.Interface
	web         service.Interface
	sub         *rulesmgr.Subscription
}

// newApp returns a new app with every component created from conf.
func newApp(
	ctx context.Context,
	baseLogger *slog.Logger,
	conf *configmgr.Config,
) (a *app, err error) {
	a = &app{
		logger: baseLogger.With(slogutil.KeyPrefix, "app"),
		conf:   conf,
	}

	err = os.MkdirAll(conf.DataDir, 0o700)
	if err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.metrics, err = metrics.NewReporter(reg)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	reporter := cbevent.MultiReporter{
		cbevent.NewLogReporter(baseLogger.With(slogutil.KeyPrefix, "cbevent")),
		a.metrics,
	}

	err = a.initData(ctx, baseLogger, reporter)
	if err != nil {
		return nil, fmt.Errorf("initializing data: %w", err)
	}

	err = a.initRules(ctx, baseLogger, reporter)
	if err != nil {
		return nil, errors.WithDeferred(
			fmt.Errorf("initializing rules: %w", err),
			a.unprotected.Close(),
		)
	}

	err = a.initWatcher(baseLogger)
	if err != nil {
		return nil, errors.WithDeferred(err, a.unprotected.Close())
	}

	a.web = service.Empty{}
	if conf.HTTP.Enabled {
		a.web = newWebService(&webConfig{
			logger:      baseLogger.With(slogutil.KeyPrefix, cbevent.PrefixWeb),
			metrics:     metrics.Handler(reg),
			attributor:  attribution.New(a.registry),
			rules:       a.rules,
			unprotected: a.unprotected,
			scheduler:   a.rules,
			addr:        conf.HTTP.Address,
		})
	}

	return a, nil
}

// initData creates the tracker registry, the privacy configuration, and the
// unprotected-domain storage and loads the downloaded datasets, if any.
func (a *app) initData(
	ctx context.Context,
	baseLogger *slog.Logger,
	reporter cbevent.Reporter,
) (err error) {
	tdConf := a.conf.TrackerData
	embedded, err := readDataset(tdConf.Embedded, tdConf.MaxSize)
	if err != nil {
		return fmt.Errorf("embedded tracker data: %w", err)
	}

	a.registry, err = tds.NewRegistry(ctx, &tds.RegistryConfig{
		Logger:    baseLogger.With(slogutil.KeyPrefix, cbevent.PrefixTrackerData),
		Reporter:  reporter,
		Embedded:  embedded,
		Name:      rulesmgr.ListNameTDS,
		CacheSize: a.conf.Rules.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("creating tracker registry: %w", err)
	}

	pcConf := a.conf.PrivacyConfig
	pcEmbedded, err := readDataset(pcConf.Embedded, pcConf.MaxSize)
	if err != nil {
		return fmt.Errorf("embedded privacy config: %w", err)
	}

	a.privacy, err = privacyconfig.NewManager(ctx, &privacyconfig.ManagerConfig{
		Logger:       baseLogger.With(slogutil.KeyPrefix, cbevent.PrefixPrivacyConfig),
		Reporter:     reporter,
		EmbeddedEtag: pcEmbedded.Etag,
		Embedded:     pcEmbedded.Data,
	})
	if err != nil {
		return fmt.Errorf("creating privacy config: %w", err)
	}

	a.reloadTrackerData(ctx)
	a.reloadPrivacyConfig(ctx)

	a.unprotected, err = unprotected.New(ctx, &unprotected.Config{
		Logger: baseLogger.With(slogutil.KeyPrefix, cbevent.PrefixUnprotected),
		Clock:  timeutil.SystemClock{},
		DBPath: filepath.Join(a.conf.DataDir, fileUnprotectedDB),
	})
	if err != nil {
		return fmt.Errorf("creating unprotected storage: %w", err)
	}

	err = a.importPlist(ctx)
	if err != nil {
		return errors.WithDeferred(err, a.unprotected.Close())
	}

	return nil
}

// importPlist imports the unprotected domains from the configured property
// list, if any.
func (a *app) importPlist(ctx context.Context) (err error) {
	fileName := a.conf.Unprotected.ImportPlist
	if fileName == "" {
		return nil
	}

	f, err := os.Open(fileName)
	if errors.Is(err, os.ErrNotExist) {
		a.logger.DebugContext(ctx, "no property list to import", "file", fileName)

		return nil
	} else if err != nil {
		return fmt.Errorf("opening property list: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	n, err := a.unprotected.ImportPlist(ctx, f)
	if err != nil {
		return fmt.Errorf("importing property list: %w", err)
	}

	a.logger.InfoContext(ctx, "imported unprotected domains", "file", fileName, "count", n)

	return nil
}

// initRules creates the rule store and the rules manager.
func (a *app) initRules(
	ctx context.Context,
	baseLogger *slog.Logger,
	reporter cbevent.Reporter,
) (err error) {
	surrogates, err := readSurrogates(a.conf.Surrogates)
	if err != nil {
		return fmt.Errorf("surrogates: %w", err)
	}

	storeLogger := baseLogger.With(slogutil.KeyPrefix, cbevent.PrefixRuleStore)

	var store rulestore.Store
	switch rc := a.conf.Rules; rc.Store {
	case configmgr.StoreDNS:
		store = rulestore.NewDNSStore(&rulestore.DNSStoreConfig{
			Logger: storeLogger,
			ListID: dnsListID,
		})
	default:
		store, err = rulestore.NewFileStore(&rulestore.FileStoreConfig{
			Logger:      storeLogger,
			Dir:         filepath.Join(a.conf.DataDir, dirRules),
			MaxListSize: rc.MaxListSize,
		})
		if err != nil {
			return fmt.Errorf("creating rule store: %w", err)
		}
	}

	a.rules, err = rulesmgr.New(ctx, &rulesmgr.Config{
		Logger:   baseLogger.With(slogutil.KeyPrefix, cbevent.PrefixRulesManager),
		Reporter: reporter,
		Clock:    timeutil.SystemClock{},
		Compiler: rulecompiler.New(&rulecompiler.Config{
			Logger: baseLogger.With(slogutil.KeyPrefix, cbevent.PrefixRuleCompiler),
		}),
		Store:           store,
		TrackerData:     a.registry,
		PrivacyConfig:   a.privacy,
		Unprotected:     a.unprotected,
		Surrogates:      surrogates,
		FreshnessPath:   filepath.Join(a.conf.DataDir, fileFreshness),
		StalenessWindow: time.Duration(a.conf.Rules.StalenessWindow),
	})
	if err != nil {
		return fmt.Errorf("creating rules manager: %w", err)
	}

	return nil
}

// readSurrogates reads the surrogate scripts from the file with the given
// name.  s is nil if fileName is empty.
func readSurrogates(fileName string) (s *surrogate.Set, err error) {
	if fileName == "" {
		return nil, nil
	}

	f, err := os.Open(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	return surrogate.Parse(f)
}

// initWatcher creates the watcher of the downloaded datasets.
func (a *app) initWatcher(baseLogger *slog.Logger) (err error) {
	if !a.conf.WatchFiles {
		a.watcher = datawatch.Empty{}

		return nil
	}

	w, err := datawatch.New(baseLogger.With(slogutil.KeyPrefix, cbevent.PrefixDataWatch))
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	for _, name := range a.watchedFiles() {
		err = w.Add(name)
		if err != nil {
			err = fmt.Errorf("watching %q: %w", name, err)

			return errors.WithDeferred(err, w.Shutdown(context.Background()))
		}
	}

	a.watcher = w

	return nil
}

// watchedFiles returns the absolute paths of the downloaded datasets.
func (a *app) watchedFiles() (names []string) {
	for _, name := range []string{
		a.conf.TrackerData.Downloaded,
		a.conf.PrivacyConfig.Downloaded,
	} {
		if name == "" {
			continue
		}

		abs, err := filepath.Abs(name)
		if err == nil {
			names = append(names, abs)
		}
	}

	return names
}

// type check
var _ service.Interface = (*app)(nil)

// Start implements the [service.Interface] interface for *app.  It starts the
// services and schedules the initial compilation waiting for it at most for the
// configured timeout.
func (a *app) Start(ctx context.Context) (err error) {
	a.sub = a.rules.Subscribe()
	go a.handleUpdates(ctx, a.sub)

	tok := a.rules.ScheduleCompilation(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(a.conf.Rules.CompileTimeout))
	defer cancel()

	err = tok.Wait(waitCtx)
	if err != nil {
		a.logger.WarnContext(ctx, "initial compilation is still running", slogutil.KeyError, err)
	}

	err = a.watcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	go a.handleWatch(ctx)

	err = a.web.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting web: %w", err)
	}

	return nil
}

// Shutdown implements the [service.Interface] interface for *app.
func (a *app) Shutdown(ctx context.Context) (err error) {
	var errs []error

	err = a.web.Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutting down web: %w", err))
	}

	err = a.watcher.Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutting down watcher: %w", err))
	}

	err = a.rules.Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutting down rules: %w", err))
	}

	err = a.unprotected.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("closing unprotected storage: %w", err))
	}

	return errors.Join(errs...)
}

// handleUpdates updates the metrics on every publication of rules.  It is
// intended to be used as a goroutine.
func (a *app) handleUpdates(ctx context.Context, sub *rulesmgr.Subscription) {
	defer slogutil.RecoverAndLog(ctx, a.logger)

	for e := range sub.Updates() {
		a.metrics.SetPublished(e.Rules.Generation, len(e.Rules.Lists))
		a.logger.InfoContext(
			ctx,
			"rules updated",
			cbevent.KeyGeneration, e.Rules.Generation,
			"changed", e.Changed,
		)
	}
}

// handleWatch reloads the changed datasets.  It is intended to be used as a
// goroutine.
func (a *app) handleWatch(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, a.logger)

	for e := range a.watcher.Events() {
		a.reload(ctx, e.Names)
	}
}

// reload reloads the datasets with the given file names and schedules a
// compilation.  If names is empty, all datasets are reloaded.
func (a *app) reload(ctx context.Context, names []string) {
	a.logger.InfoContext(ctx, "reloading datasets", "files", names)

	if wants(names, a.conf.TrackerData.Downloaded) {
		a.reloadTrackerData(ctx)
	}

	if wants(names, a.conf.PrivacyConfig.Downloaded) {
		a.reloadPrivacyConfig(ctx)
	}

	tok := a.rules.ScheduleCompilation(ctx)
	a.logger.DebugContext(ctx, "scheduled compilation", cbevent.KeyGeneration, tok.Generation())
}

// wants returns true if the dataset with the given file name must be reloaded
// for the changed names.
func wants(names []string, fileName string) (ok bool) {
	if fileName == "" {
		return false
	} else if len(names) == 0 {
		return true
	}

	abs, err := filepath.Abs(fileName)

	return err == nil && slices.Contains(names, abs)
}

// reloadTrackerData loads the downloaded tracker data, if any.  The errors are
// reported by the registry or logged.
func (a *app) reloadTrackerData(ctx context.Context) {
	conf := a.conf.TrackerData
	src, err := readOptionalDataset(conf.Downloaded, conf.MaxSize)
	if err != nil {
		a.logger.WarnContext(ctx, "reading tracker data", slogutil.KeyError, err)

		return
	} else if src == nil {
		return
	}

	// The error is reported by the registry.
	_ = a.registry.Load(ctx, src)
}

// reloadPrivacyConfig loads the downloaded privacy configuration, if any.  The
// errors are reported by the manager or logged.
func (a *app) reloadPrivacyConfig(ctx context.Context) {
	conf := a.conf.PrivacyConfig
	src, err := readOptionalDataset(conf.Downloaded, conf.MaxSize)
	if err != nil {
		a.logger.WarnContext(ctx, "reading privacy config", slogutil.KeyError, err)

		return
	} else if src == nil {
		return
	}

	o := a.privacy.Reload(ctx, src.Etag, src.Data)
	a.logger.DebugContext(ctx, "privacy config reloaded", cbevent.KeyOrigin, o)
}

// closeOnExit is a helper for closing the log output.
func closeOnExit(ctx context.Context, l *slog.Logger, c io.Closer) {
	if c == nil {
		return
	}

	err := c.Close()
	if err != nil {
		l.ErrorContext(ctx, "closing log output", slogutil.KeyError, err)
	}
}
