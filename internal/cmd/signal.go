package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/renameio/v2/maybe"
)

// Exit status constants.
const (
	statusSuccess       = 0
	statusError         = 1
	statusArgumentError = 2
)

// signalHandler processes incoming signals, reloads the datasets, and shuts the
// app down.
type signalHandler struct {
	logger *slog.Logger

	// signal is the channel to which OS signals are sent.
	signal chan os.Signal

	// app is reloaded on SIGHUP and shut down on the shutdown signals.
	app *app

	// pidFile is the path to the file where to store the PID, if any.
	pidFile string
}

// newSignalHandler returns a new signalHandler for a.
func newSignalHandler(l *slog.Logger, a *app, pidFile string) (h *signalHandler) {
	h = &signalHandler{
		logger:  l,
		signal:  make(chan os.Signal, 1),
		app:     a,
		pidFile: pidFile,
	}

	signal.Notify(h.signal, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)

	return h
}

// handle processes OS signals until a shutdown signal is received.  status is
// the exit status of the binary.
func (h *signalHandler) handle(ctx context.Context) (status int) {
	defer slogutil.RecoverAndLog(ctx, h.logger)

	h.writePID(ctx)

	for sig := range h.signal {
		h.logger.InfoContext(ctx, "received signal", "signal", sig)

		if sig == syscall.SIGHUP {
			h.app.reload(ctx, nil)

			continue
		}

		status = h.shutdown(ctx)
		h.removePID(ctx)

		return status
	}

	return statusSuccess
}

// shutdown gracefully shuts down the app.
func (h *signalHandler) shutdown(ctx context.Context) (status int) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	h.logger.InfoContext(ctx, "shutting down")

	err := h.app.Shutdown(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "shutting down", slogutil.KeyError, err)

		return statusError
	}

	return statusSuccess
}

// writePID writes the PID to the file, if needed.  Any errors are reported to
// log.
func (h *signalHandler) writePID(ctx context.Context) {
	if h.pidFile == "" {
		return
	}

	// Use 8, since most PIDs will fit.
	data := make([]byte, 0, 8)
	data = strconv.AppendInt(data, int64(os.Getpid()), 10)
	data = append(data, '\n')

	err := maybe.WriteFile(h.pidFile, data, 0o644)
	if err != nil {
		h.logger.ErrorContext(ctx, "writing pidfile", slogutil.KeyError, err)

		return
	}

	h.logger.DebugContext(ctx, "wrote pid", "file", h.pidFile)
}

// removePID removes the PID file, if any.
func (h *signalHandler) removePID(ctx context.Context) {
	if h.pidFile == "" {
		return
	}

	err := os.Remove(h.pidFile)
	if err != nil {
		h.logger.ErrorContext(ctx, "removing pidfile", slogutil.KeyError, err)

		return
	}

	h.logger.DebugContext(ctx, "removed pid", "file", h.pidFile)
}
