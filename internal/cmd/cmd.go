// Package cmd is the TrackerShield entry point.  It reads the configuration
// file, assembles the content-blocking components, and sets up signal
// processing logic.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/AdguardTeam/TrackerShield/internal/configmgr"
	"github.com/AdguardTeam/TrackerShield/internal/version"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// defaultTimeout is the timeout used for some operations where another timeout
// hasn't been defined yet.
const defaultTimeout = 5 * time.Second

// Main is the entry point of TrackerShield.
func Main() {
	ctx := context.Background()

	cmdName := os.Args[0]
	opts, err := parseOptions(cmdName, os.Args[1:], os.Stderr)
	exitCode, needExit := processOptions(opts, err)
	if needExit {
		os.Exit(exitCode)
	}

	conf, err := configmgr.Read(opts.confFile)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(statusError)
	}

	if opts.checkConfig {
		_, _ = fmt.Fprintln(os.Stdout, "configuration is valid")

		os.Exit(statusSuccess)
	}

	baseLogger, logCloser := newBaseLogger(conf.Log, opts.verbose)
	baseLogger.InfoContext(
		ctx,
		"starting trackershield",
		"version", version.Version(),
		"pid", os.Getpid(),
	)

	a, err := newApp(ctx, baseLogger, conf)
	check(ctx, baseLogger, logCloser, err)

	err = a.Start(ctx)
	check(ctx, baseLogger, logCloser, err)

	h := newSignalHandler(baseLogger.With(slogutil.KeyPrefix, "sighdlr"), a, opts.pidFile)
	status := h.handle(ctx)

	baseLogger.InfoContext(ctx, "exiting", "status", status)
	closeOnExit(ctx, baseLogger, logCloser)

	os.Exit(status)
}

// check is a simple error-checking helper.  It logs err, closes the log output,
// and exits with [statusError] if err is not nil.  It must only be used within
// Main.
func check(ctx context.Context, l *slog.Logger, logCloser io.Closer, err error) {
	if err == nil {
		return
	}

	l.ErrorContext(ctx, "fatal error", slogutil.KeyError, err)
	closeOnExit(ctx, l, logCloser)

	os.Exit(statusError)
}
