package unprotected

import (
	"context"
	"fmt"
	"io"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"howett.net/plist"
)

// MaxPlistSize is the maximum size of a property list accepted by
// [Storage.ImportPlist].
const MaxPlistSize = 1024 * 1024

// plistDomainsKey is the key of the domain array in dictionary property lists.
const plistDomainsKey = "domains"

// ImportPlist adds the domains from a property list, either an array of
// strings or a dictionary with such an array under the "domains" key.  Invalid
// domains are skipped.  n is the number of added domains.
func (s *Storage) ImportPlist(ctx context.Context, r io.Reader) (n int, err error) {
	data, err := io.ReadAll(ioutil.LimitReader(r, MaxPlistSize))
	if err != nil {
		return 0, fmt.Errorf("reading plist: %w", err)
	}

	domains, err := plistDomains(data)
	if err != nil {
		return 0, fmt.Errorf("decoding plist: %w", err)
	}

	var errs []error
	for _, d := range domains {
		added, addErr := s.Add(ctx, d)
		if addErr != nil {
			s.logger.DebugContext(ctx, "skipping imported domain", slogutil.KeyError, addErr)
			errs = append(errs, addErr)

			continue
		}

		if added {
			n++
		}
	}

	s.logger.InfoContext(ctx, "imported domains", "added", n, "skipped", len(errs))

	return n, nil
}

// plistDomains returns the domains from a property list.
func plistDomains(data []byte) (domains []string, err error) {
	_, err = plist.Unmarshal(data, &domains)
	if err == nil {
		return domains, nil
	}

	dict := map[string][]string{}
	_, dictErr := plist.Unmarshal(data, &dict)
	if dictErr != nil {
		return nil, errors.Join(err, dictErr)
	}

	domains, ok := dict[plistDomainsKey]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", plistDomainsKey, errors.ErrNoValue)
	}

	return domains, nil
}
