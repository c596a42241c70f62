package producer

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// YAML decodes the same shapes as JSON. Documents are decoded generically
// and re-encoded as JSON so the record types keep a single set of field
// names and decoders.
type YAML struct{}

// Name implements Producer.
func (YAML) Name() string { return "yaml" }

// Decode implements Producer.
func (YAML) Decode(r io.Reader) (*Batch, error) {
	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, eris.New("yaml: empty input")
		}
		return nil, eris.Wrap(err, "yaml: decode")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "yaml: convert to json")
	}
	return JSON{}.Decode(bytes.NewReader(raw))
}
