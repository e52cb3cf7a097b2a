package catalog

import (
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
)

// Read decodes a catalog from r, decompressing it when gzipped is set.
func Read(r io.Reader, gzipped bool) (*Catalog, error) {
	if gzipped {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	return Decode(data)
}

// ReadFile decodes a catalog file. Files ending in .gz are decompressed.
func ReadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()
	return Read(f, strings.HasSuffix(path, ".gz"))
}
