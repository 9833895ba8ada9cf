package cmd

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/AdguardTeam/TrackerShield/internal/configmgr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/c2h5oh/datasize"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newBaseLogger returns the logger configured with the given settings.  The
// output is closed by the returned closer, if any.  c must not be nil.
func newBaseLogger(c *configmgr.LogConfig, verbose bool) (l *slog.Logger, closer io.Closer) {
	lvl := slog.LevelInfo
	if c.Verbose || verbose {
		lvl = slog.LevelDebug
	}

	var output io.Writer = os.Stderr
	if c.File != "" {
		lj := &lumberjack.Logger{
			Filename:   c.File,
			Compress:   c.Compress,
			MaxBackups: c.MaxBackups,
			MaxSize:    max(int(c.MaxSize/datasize.MB), 1),
			MaxAge:     int(time.Duration(c.MaxAge) / timeutil.Day),
		}

		output, closer = lj, lj
	}

	return slogutil.New(&slogutil.Config{
		Output:       output,
		Format:       slogutil.FormatAdGuardLegacy,
		Level:        lvl,
		AddTimestamp: true,
	}), closer
}
