// Package producer decodes record files into organization and person
// records ready for ingestion. The decoder is picked from a static registry
// keyed by file extension.
package producer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/firmsync/internal/model"
)

// ErrUnknownFormat is returned for a file extension with no registered
// producer.
var ErrUnknownFormat = eris.New("producer: unknown file format")

// Batch is everything one producer yields: organizations with their nested
// people, and people that arrive without a parent record.
type Batch struct {
	Organizations []model.OrganizationRecord `json:"organizations"`
	Persons       []model.PersonRecord       `json:"persons"`
}

// Len returns the number of top-level records in b.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Organizations) + len(b.Persons)
}

// Producer decodes one record file format.
type Producer interface {
	Name() string
	Decode(r io.Reader) (*Batch, error)
}

var registry = map[string]Producer{
	".json": JSON{},
	".yaml": YAML{},
	".yml":  YAML{},
	".xlsx": XLSX{},
}

// ForPath returns the producer registered for path's extension.
func ForPath(path string) (Producer, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := registry[ext]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownFormat, "producer: %q (supported: %s)", ext, strings.Join(Extensions(), ", "))
	}
	return p, nil
}

// Extensions lists the registered file extensions in sorted order.
func Extensions() []string {
	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Load decodes the file at path with the producer registered for its
// extension.
func Load(ctx context.Context, path string) (*Batch, error) {
	p, err := ForPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("producer: open %s", path))
	}
	defer f.Close() //nolint:errcheck

	batch, err := p.Decode(f)
	if err != nil {
		return nil, eris.Wrapf(err, "producer: decode %s as %s", filepath.Base(path), p.Name())
	}
	return batch, nil
}
