// Package version contains the build information of TrackerShield.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/stringutil"
)

// These are set by the linker.
var (
	version    string
	committime string
)

// versionDevel is the version of builds made without the linker flags.
const versionDevel = "(devel)"

// Version returns the build version.
func Version() (v string) {
	if version == "" {
		return versionDevel
	}

	return version
}

// Full returns the name of the program followed by its version.
func Full() (v string) {
	return "TrackerShield, version " + Version()
}

// Verbose returns the build information for the given configuration schema
// version, one "Name: value" field per line, followed by the dependencies.
func Verbose(schemaVersion uint) (v string) {
	info, _ := debug.ReadBuildInfo()

	b := &strings.Builder{}
	stringutil.WriteToBuilder(b, "TrackerShield\n")

	writeField(b, "Version", Version())
	writeField(b, "Schema version", strconv.FormatUint(uint64(schemaVersion), 10))
	writeField(b, "Go version", runtime.Version())
	writeField(b, "Revision", buildSetting(info, "vcs.revision"))
	writeField(b, "Commit time", commitTime(committime, info))
	writeField(b, "GOOS", runtime.GOOS)
	writeField(b, "GOARCH", runtime.GOARCH)

	if info == nil || len(info.Deps) == 0 {
		return b.String()
	}

	stringutil.WriteToBuilder(b, "Dependencies:\n")
	for _, dep := range info.Deps {
		if s := fmtModule(dep); s != "" {
			stringutil.WriteToBuilder(b, "\t", s, "\n")
		}
	}

	return b.String()
}

// writeField writes the field with the given name and value to b.  Empty
// values are skipped.
func writeField(b *strings.Builder, name, value string) {
	if value != "" {
		stringutil.WriteToBuilder(b, name, ": ", value, "\n")
	}
}

// commitTime returns the commit time from the Unix time set by the linker or,
// if there is none, from the VCS stamp of info.
func commitTime(unixStr string, info *debug.BuildInfo) (s string) {
	if unixStr == "" {
		return buildSetting(info, "vcs.time")
	}

	sec, err := strconv.ParseInt(unixStr, 10, 64)
	if err != nil {
		return fmt.Sprintf("parse error: %s", err)
	}

	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

// buildSetting returns the value of the build setting with the given key or
// an empty string.  info may be nil.
func buildSetting(info *debug.BuildInfo, key string) (val string) {
	if info == nil {
		return ""
	}

	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}

	return ""
}

// fmtModule returns the module path with its version and checksum, for
// example:
//
//	github.com/Username/module@v1.2.3 (sum: someHASHSUM=)
//
// Replaced modules are described by their replacement.
func fmtModule(m *debug.Module) (formatted string) {
	for m != nil && m.Replace != nil {
		m = m.Replace
	}

	if m == nil {
		return ""
	}

	b := &strings.Builder{}
	stringutil.WriteToBuilder(b, m.Path)

	switch m.Version {
	case "":
		// Go on.
	case versionDevel:
		stringutil.WriteToBuilder(b, " ", m.Version)
	default:
		stringutil.WriteToBuilder(b, "@", m.Version)
	}

	if m.Sum != "" {
		stringutil.WriteToBuilder(b, " (sum: ", m.Sum, ")")
	}

	return b.String()
}
