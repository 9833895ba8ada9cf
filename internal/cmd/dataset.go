package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/AdguardTeam/TrackerShield/internal/tds"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/c2h5oh/datasize"
)

// etagLen is the length of the etags computed from the contents of datasets.
const etagLen = 16

// readDataset reads the dataset file with the given name and returns its
// contents along with an etag computed from them.  The file must not be larger
// than maxSize.
func readDataset(fileName string, maxSize datasize.ByteSize) (src *tds.Source, err error) {
	defer func() { err = errors.Annotate(err, "reading dataset %q: %w", fileName) }()

	f, err := os.Open(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	data, err := io.ReadAll(ioutil.LimitReader(f, maxSize.Bytes()))
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return &tds.Source{
		Etag: contentEtag(data),
		Data: data,
	}, nil
}

// readOptionalDataset is like [readDataset] but returns nil if fileName is
// empty or the file doesn't exist.
func readOptionalDataset(fileName string, maxSize datasize.ByteSize) (src *tds.Source, err error) {
	if fileName == "" {
		return nil, nil
	}

	src, err = readDataset(fileName, maxSize)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	return src, err
}

// contentEtag returns the etag for a dataset with the given contents.
func contentEtag(data []byte) (etag string) {
	sum := sha256.Sum256(data)

	return fmt.Sprintf("sha256-%s", hex.EncodeToString(sum[:etagLen]))
}
