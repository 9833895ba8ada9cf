// Package surrogate contains the list of surrogate scripts, which replace
// blocked tracker scripts that pages depend on.
package surrogate

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// errNoName is returned when a surrogate pattern has no script name.
const errNoName errors.Error = "no script name"

// Surrogate is a single surrogate script.
type Surrogate struct {
	// Pattern is the URL pattern of the replaced script, for example
	// "tracker.com/widget.js".
	Pattern string

	// Name is the last path component of Pattern.  Tracker rules refer to
	// surrogates by name.
	Name string

	// MIME is the MIME type of Body.
	MIME string

	// Body is the source of the script.
	Body string
}

// Set is an immutable set of surrogates.  A nil *Set is a valid empty set.
type Set struct {
	byName map[string]*Surrogate
}

// Parse parses the surrogates file format: blocks separated by empty lines,
// with the first line of every block containing the pattern and the MIME type
// and the rest containing the script.  Lines starting with "#" outside of
// scripts are comments.
func Parse(r io.Reader) (s *Set, err error) {
	s = &Set{
		byName: map[string]*Surrogate{},
	}

	var cur *Surrogate
	var body []string
	flush := func() {
		if cur != nil {
			cur.Body = strings.Join(body, "\n")
			s.byName[cur.Name] = cur
		}

		cur, body = nil, nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(nil, bufio.MaxScanTokenSize*16)
	for lineNum := 1; sc.Scan(); lineNum++ {
		line := sc.Text()

		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case cur != nil:
			body = append(body, line)
		case strings.HasPrefix(line, "#"):
			// Skip comments.
		default:
			cur, err = parseHeader(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
		}
	}

	err = sc.Err()
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}

	flush()

	return s, nil
}

// parseHeader parses the first line of a surrogate block.
func parseHeader(line string) (sur *Surrogate, err error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return nil, fmt.Errorf("header %q: want pattern and mime type, got %d fields", line, len(fields))
	}

	pattern := fields[0]
	name := path.Base(pattern)
	if name == "." || name == "/" || !strings.Contains(pattern, "/") {
		return nil, fmt.Errorf("pattern %q: %w", pattern, errNoName)
	}

	return &Surrogate{
		Pattern: pattern,
		Name:    name,
		MIME:    fields[1],
	}, nil
}

// Has returns true if the set contains a surrogate with the given name.
func (s *Set) Has(name string) (ok bool) {
	return s.Get(name) != nil
}

// Get returns the surrogate with the given name or nil.
func (s *Set) Get(name string) (sur *Surrogate) {
	if s == nil {
		return nil
	}

	return s.byName[name]
}

// Names returns the sorted names of the surrogates.
func (s *Set) Names() (names []string) {
	if s == nil {
		return nil
	}

	for name := range s.byName {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Len returns the number of surrogates in the set.
func (s *Set) Len() (n int) {
	if s == nil {
		return 0
	}

	return len(s.byName)
}
