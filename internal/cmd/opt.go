package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/AdguardTeam/TrackerShield/internal/configmgr"
	"github.com/AdguardTeam/TrackerShield/internal/version"
	"github.com/AdguardTeam/golibs/errors"
)

// options contains all command-line options for the binary.
type options struct {
	// confFile is the path to the configuration file.
	confFile string

	// pidFile is the path to the file where to store the PID, if any.
	pidFile string

	// checkConfig, if true, instructs the binary to check the configuration
	// file and exit with a corresponding exit code.
	checkConfig bool

	// verbose, if true, enables verbose logging regardless of the
	// configuration file.
	verbose bool

	// version, if true, instructs the binary to print the version and exit.
	version bool
}

// defaultConfFile is the default path to the configuration file.
const defaultConfFile = "trackershield.yaml"

// parseOptions parses the command-line options.  If the options are invalid,
// the usage message is written to output.
func parseOptions(cmdName string, args []string, output io.Writer) (opts *options, err error) {
	opts = &options{}

	flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)
	flags.SetOutput(output)

	flags.StringVar(&opts.confFile, "c", defaultConfFile, "path to the config file")
	flags.StringVar(&opts.confFile, "config", defaultConfFile, "path to the config file")
	flags.StringVar(&opts.pidFile, "pidfile", "", "path to the file where to store the pid")
	flags.BoolVar(&opts.checkConfig, "check-config", false, "check the config file and exit")
	flags.BoolVar(&opts.verbose, "v", false, "enable verbose output")
	flags.BoolVar(&opts.verbose, "verbose", false, "enable verbose output")
	flags.BoolVar(&opts.version, "version", false, "print the version and exit")

	err = flags.Parse(args)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	if flags.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %q", flags.Args())
	}

	return opts, nil
}

// processOptions decides if the binary needs to exit depending on the results
// of the options parsing.
func processOptions(opts *options, parseErr error) (exitCode int, needExit bool) {
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return statusSuccess, true
		}

		_, _ = fmt.Fprintf(os.Stderr, "parsing options: %s\n", parseErr)

		return statusArgumentError, true
	}

	if opts.version {
		if opts.verbose {
			_, _ = fmt.Fprint(os.Stdout, version.Verbose(configmgr.CurrentSchemaVersion))
		} else {
			_, _ = fmt.Fprintln(os.Stdout, version.Full())
		}

		return statusSuccess, true
	}

	return statusSuccess, false
}
