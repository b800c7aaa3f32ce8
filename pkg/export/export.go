package export

import (
	"errors"
	"fmt"
	"strings"
)

// Format identifies an output encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ErrUnsupportedFormat is returned by ForFormat for unknown encodings.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Field is a labelled value printed above the table.
type Field struct {
	Label string
	Value string
}

// Table is a titled sheet of rows. Every row must have one cell per header.
type Table struct {
	Title   string
	Fields  []Field
	Headers []string
	Rows    [][]string
}

// Renderer encodes a Table.
type Renderer interface {
	Render(Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// ForFormat returns the renderer for the requested format name.
func ForFormat(name string) (Renderer, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatCSV, "":
		return NewCSVRenderer(), nil
	case FormatPDF:
		return NewPDFRenderer(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

func (t Table) validate() error {
	if len(t.Headers) == 0 {
		return errors.New("table requires at least one header")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Headers))
		}
	}
	return nil
}
