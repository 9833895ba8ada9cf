package rulestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/c2h5oh/datasize"
	"github.com/google/renameio/v2/maybe"
)

// Permissions of the store files.
const (
	permDir  fs.FileMode = 0o700
	permFile fs.FileMode = 0o600
)

// listExt is the extension of the files with encoded rule sets.
const listExt = ".json"

// DefaultMaxListSize is the default maximum size of a stored rule set.
const DefaultMaxListSize = 64 * datasize.MB

// FileStoreConfig is the configuration structure for a *FileStore.
type FileStoreConfig struct {
	// Logger is used to log the operation of the store.  It must not be nil.
	Logger *slog.Logger

	// Dir is the directory where the encoded rule sets are kept.  It must not
	// be empty.
	Dir string

	// MaxListSize is the maximum size of a stored rule set.  It must be
	// positive.
	MaxListSize datasize.ByteSize
}

// FileStore is a [Store] that keeps encoded rule sets on disk and compiles
// them into [*Matcher] lists.
type FileStore struct {
	logger  *slog.Logger
	dir     string
	maxSize datasize.ByteSize
}

// NewFileStore returns a new store and creates its directory if necessary.
func NewFileStore(c *FileStoreConfig) (s *FileStore, err error) {
	err = os.MkdirAll(c.Dir, permDir)
	if err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	return &FileStore{
		logger:  c.Logger,
		dir:     c.Dir,
		maxSize: c.MaxListSize,
	}, nil
}

// type check
var _ Store = (*FileStore)(nil)

// Compile implements the [Store] interface for *FileStore.
func (s *FileStore) Compile(
	ctx context.Context,
	id string,
	encoded []byte,
) (l CompiledList, err error) {
	defer func() {
		if err != nil {
			err = &RegistrationError{Err: err, Identifier: id}
		}
	}()

	if uint64(len(encoded)) > s.maxSize.Bytes() {
		return nil, fmt.Errorf("size %d: %w", len(encoded), errors.ErrOutOfRange)
	}

	rules, err := decodeRules(encoded)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	m, err := newMatcher(id, rules)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	err = maybe.WriteFile(s.path(id), encoded, permFile)
	if err != nil {
		return nil, fmt.Errorf("writing: %w", err)
	}

	s.logger.DebugContext(ctx, "compiled rule list", cbevent.KeyIdentifier, id, "rules", m.Len())

	return m, nil
}

// Lookup implements the [Store] interface for *FileStore.
func (s *FileStore) Lookup(ctx context.Context, id string) (l CompiledList, err error) {
	encoded, err := s.read(id)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading %q: %w", id, err)
	}

	rules, err := decodeRules(encoded)
	if err != nil {
		return nil, fmt.Errorf("stored list %q: %w", id, err)
	}

	m, err := newMatcher(id, rules)
	if err != nil {
		return nil, fmt.Errorf("stored list %q: %w", id, err)
	}

	s.logger.DebugContext(ctx, "loaded rule list", cbevent.KeyIdentifier, id, "rules", m.Len())

	return m, nil
}

// read reads the encoded rule set saved under id.
func (s *FileStore) read(id string) (encoded []byte, err error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		// Don't wrap the error since it's checked by the caller.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	// Don't wrap the error since it's informative enough as is.
	return io.ReadAll(ioutil.LimitReader(f, s.maxSize.Bytes()))
}

// Remove implements the [Store] interface for *FileStore.
func (s *FileStore) Remove(ctx context.Context, id string) (err error) {
	err = os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %q: %w", id, err)
	}

	s.logger.DebugContext(ctx, "removed rule list", cbevent.KeyIdentifier, id)

	return nil
}

// path returns the path of the file for id.  Identifiers contain etags, which
// may contain any characters, so the file name is a hash.
func (s *FileStore) path(id string) (p string) {
	sum := sha256.Sum256([]byte(id))

	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+listExt)
}
