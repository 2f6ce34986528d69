package producer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNoHeader is returned when the stream ends before a header row.
var ErrNoHeader = errors.New("producer: missing header row")

// ReadHeader decodes the first CSV record of r. A UTF-8 BOM is dropped and
// names are trimmed of surrounding whitespace.
func ReadHeader(r io.Reader, delimiter rune) ([]string, error) {
	br := bufio.NewReader(transform.NewReader(r, unicode.BOMOverride(transform.Nop)))

	cr := csv.NewReader(br)
	if delimiter != 0 {
		cr.Comma = delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	rec, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	out := make([]string, len(rec))
	for i, h := range rec {
		out[i] = strings.TrimSpace(h)
	}
	return out, nil
}
