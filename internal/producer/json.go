package producer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/firmsync/internal/model"
)

// JSON decodes either a {"organizations": [...], "persons": [...]} object or
// a bare array of organizations.
type JSON struct{}

// Name implements Producer.
func (JSON) Name() string { return "json" }

// Decode implements Producer.
func (JSON) Decode(r io.Reader) (*Batch, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var orgs []model.OrganizationRecord
		if err := dec.Decode(&orgs); err != nil {
			return nil, eris.Wrap(err, "json: decode organizations")
		}
		return &Batch{Organizations: orgs}, nil
	}

	var batch Batch
	if err := dec.Decode(&batch); err != nil {
		return nil, eris.Wrap(err, "json: decode batch")
	}
	return &batch, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return 0, eris.New("json: empty input")
		}
		if err != nil {
			return 0, eris.Wrap(err, "json: read")
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
