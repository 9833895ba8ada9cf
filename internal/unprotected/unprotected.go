// Package unprotected contains the storage of the domains the user has
// disabled protection for.
package unprotected

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
	"golang.org/x/net/idna"
)

// permFile is the permission of the database file.
const permFile fs.FileMode = 0o600

// bboltBucketDomains is the name of the bucket storing the domains in the
// bbolt database.  The values are the big-endian Unix times of addition.
const bboltBucketDomains = "unprotected-domains"

// bboltAddedLen is the length of the value stored for every domain.
const bboltAddedLen = 8

// Config is the configuration structure for a *Storage.
type Config struct {
	// Logger is used for logging the operation of the storage.  It must not
	// be nil.
	Logger *slog.Logger

	// Clock is used to get the time of addition.  It must not be nil.
	Clock timeutil.Clock

	// DBPath is the path to the database file.  It must not be empty.
	DBPath string
}

// Storage is the bbolt-backed set of unprotected domains.  It is safe for
// concurrent use.
type Storage struct {
	// db is the database where the domains are stored in the
	// [bboltBucketDomains] bucket.
	db *bbolt.DB

	logger *slog.Logger

	// mu protects domains and the writes to db.
	mu *sync.RWMutex

	clock timeutil.Clock

	// domains are the normalized unprotected domains.
	domains *container.MapSet[string]
}

// New returns a new storage with the domains loaded from the database.
func New(ctx context.Context, c *Config) (s *Storage, err error) {
	s = &Storage{
		logger:  c.Logger,
		mu:      &sync.RWMutex{},
		clock:   c.Clock,
		domains: container.NewMapSet[string](),
	}

	s.db, err = bbolt.Open(c.DBPath, permFile, nil)
	if err != nil {
		if errors.Is(err, berrors.ErrInvalid) {
			s.logger.ErrorContext(ctx, "incompatible database file", "path", c.DBPath)
		}

		return nil, fmt.Errorf("opening db %q: %w", c.DBPath, err)
	}

	err = s.load(ctx)
	if err != nil {
		return nil, errors.WithDeferred(fmt.Errorf("loading domains: %w", err), s.db.Close())
	}

	return s, nil
}

// load loads the domains from the database and removes the invalid ones.
func (s *Storage) load(ctx context.Context) (err error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	needRollback := true
	defer func() {
		if needRollback {
			err = errors.WithDeferred(err, tx.Rollback())
		}
	}()

	bkt := tx.Bucket([]byte(bboltBucketDomains))
	if bkt == nil {
		return nil
	}

	var invalid [][]byte
	err = bkt.ForEach(func(k, v []byte) (fErr error) {
		domain, fErr := Normalize(string(k))
		if fErr != nil || len(v) != bboltAddedLen {
			invalid = append(invalid, k)
			s.logger.DebugContext(ctx, "dropping invalid entry", "key", k, slogutil.KeyError, fErr)

			return nil
		}

		s.domains.Add(domain)

		return nil
	})
	if err != nil {
		return fmt.Errorf("iterating over domains: %w", err)
	}

	if len(invalid) == 0 {
		s.logger.DebugContext(ctx, "loaded domains", "stored", s.domains.Len())

		return nil
	}

	var errs []error
	for _, k := range invalid {
		if err = bkt.Delete(k); err != nil {
			errs = append(errs, err)
		}
	}

	if err = errors.Join(errs...); err != nil {
		return fmt.Errorf("deleting domains: %w", err)
	}

	needRollback = false
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.DebugContext(
		ctx,
		"loaded domains",
		"stored", s.domains.Len(),
		"removed", len(invalid),
	)

	return nil
}

// Normalize returns the canonical ASCII form of a domain.  It returns an
// error if domain is not a valid domain name.
func Normalize(domain string) (norm string, err error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	norm, err = idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("domain %q: %w", domain, err)
	}

	norm = strings.ToLower(norm)
	err = netutil.ValidateDomainName(norm)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return "", err
	}

	return norm, nil
}

// Add adds domain to the set.  added is false if the domain is already in the
// set.
func (s *Storage) Add(ctx context.Context, domain string) (added bool, err error) {
	domain, err = Normalize(domain)
	if err != nil {
		return false, fmt.Errorf("adding: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.domains.Has(domain) {
		return false, nil
	}

	err = s.update(func(bkt *bbolt.Bucket) (uErr error) {
		return bkt.Put([]byte(domain), encodeTime(s.clock.Now()))
	})
	if err != nil {
		return false, fmt.Errorf("storing %q: %w", domain, err)
	}

	s.domains.Add(domain)
	s.logger.InfoContext(ctx, "protection disabled", "domain", domain)

	return true, nil
}

// Remove removes domain from the set.  removed is false if the domain is not
// in the set.
func (s *Storage) Remove(ctx context.Context, domain string) (removed bool, err error) {
	domain, err = Normalize(domain)
	if err != nil {
		return false, fmt.Errorf("removing: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.domains.Has(domain) {
		return false, nil
	}

	err = s.update(func(bkt *bbolt.Bucket) (uErr error) {
		return bkt.Delete([]byte(domain))
	})
	if err != nil {
		return false, fmt.Errorf("deleting %q: %w", domain, err)
	}

	s.domains.Delete(domain)
	s.logger.InfoContext(ctx, "protection enabled", "domain", domain)

	return true, nil
}

// Has returns true if domain is in the set.  domain must be normalized.
func (s *Storage) Has(domain string) (ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.domains.Has(domain)
}

// Domains returns the sorted unprotected domains.
func (s *Storage) Domains() (domains []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	domains = s.domains.Values()
	slices.Sort(domains)

	return domains
}

// Close closes the database.
func (s *Storage) Close() (err error) {
	return s.db.Close()
}

// update runs fn in a write transaction on the domains bucket.
func (s *Storage) update(fn func(bkt *bbolt.Bucket) (err error)) (err error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	needRollback := true
	defer func() {
		if needRollback {
			err = errors.WithDeferred(err, tx.Rollback())
		}
	}()

	bkt, err := tx.CreateBucketIfNotExists([]byte(bboltBucketDomains))
	if err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}

	err = fn(bkt)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	needRollback = false
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// encodeTime returns the binary representation of t.
func encodeTime(t time.Time) (data []byte) {
	data = make([]byte, bboltAddedLen)
	binary.BigEndian.PutUint64(data, uint64(t.Unix()))

	return data
}
