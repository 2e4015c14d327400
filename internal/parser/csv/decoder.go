// Package csv turns a CSV stream into a lazy sequence of raw records keyed by
// column name. It never buffers the whole input, so multi-GB files stream
// through in constant memory.
//
// Width mismatches and syntax errors are soft: Next reports them as
// *MalformedRowError and the following call continues with the next row. Only
// I/O failures of the underlying reader end the sequence with an error.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Options configures the decoder. The zero value reads comma-separated input
// without a header.
type Options struct {
	// HasHeader treats the first row as column names.
	HasHeader bool

	// Comma is the field delimiter. When zero, ',' is used.
	Comma rune

	// TrimSpace trims leading and trailing white space from every value.
	TrimSpace bool

	// LazyQuotes relaxes quote handling (see encoding/csv).
	LazyQuotes bool

	// HeaderMap renames source headers to canonical names. It is applied
	// after trimming and BOM removal and before folding.
	HeaderMap map[string]string

	// FoldHeaders lowercases headers, strips diacritics and maps separators
	// to underscores, so "Příjmení" and "prijmeni" name the same column.
	FoldHeaders bool

	// Scrub lists byte sequences rewritten on the fly before parsing. It is
	// meant for known broken quoting in real-world exports.
	Scrub []Replacement
}

// Record is one well-formed data row. Line is the physical line on which the
// row starts (1-based, header included).
type Record struct {
	Line   int
	Fields map[string]string
	Raw    []string
}

// Get returns the value of column name and whether the column exists.
func (r Record) Get(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// MalformedRowError reports a row whose shape does not match the header. Err
// carries the parser error when the row could not be split at all; Raw holds
// the fields when it could.
type MalformedRowError struct {
	Line     int
	Expected int
	Got      int
	Raw      []string
	Err      error
}

func (e *MalformedRowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed row at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed row at line %d: incorrect number of fields (expected %d, got %d)", e.Line, e.Expected, e.Got)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a *MalformedRowError.
func IsMalformed(err error) bool {
	var me *MalformedRowError
	return errors.As(err, &me)
}

// Decoder reads raw records from a CSV stream. It is not safe for concurrent
// use; the loader runs exactly one decoder per file.
type Decoder struct {
	cr      *csv.Reader
	opt     Options
	headers []string
	width   int
	started bool
	err     error // sticky, set on header or I/O failure
}

// NewDecoder returns a decoder over r. Nothing is read until the first call
// to Header or Next.
func NewDecoder(r io.Reader, opt Options) *Decoder {
	if len(opt.Scrub) > 0 {
		r = newRewriter(r, opt.Scrub)
	}
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1 // width is checked here, per row
	cr.ReuseRecord = true
	return &Decoder{cr: cr, opt: opt}
}

// Header returns the normalized column names. Without a header row the names
// are col_0..col_n-1 and are only known after the first row was read.
func (d *Decoder) Header() ([]string, error) {
	if err := d.start(); err != nil {
		return nil, err
	}
	return append([]string(nil), d.headers...), nil
}

func (d *Decoder) start() error {
	if d.started {
		return d.err
	}
	d.started = true
	if !d.opt.HasHeader {
		return nil
	}
	h, err := d.cr.Read()
	if err == io.EOF {
		d.err = io.EOF
		return d.err
	}
	if err != nil {
		d.err = fmt.Errorf("read csv header: %w", err)
		return d.err
	}
	d.headers = normalizeHeaders(h, d.opt)
	d.width = len(d.headers)
	return nil
}

// Next returns the next well-formed record, a *MalformedRowError for a row
// that could not be used, or io.EOF at the end of input. After a malformed
// row the decoder stays usable. Any other error is final.
func (d *Decoder) Next() (Record, error) {
	if err := d.start(); err != nil {
		return Record{}, err
	}
	row, err := d.cr.Read()
	if err == io.EOF {
		d.err = io.EOF
		return Record{}, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return Record{}, &MalformedRowError{Line: pe.StartLine, Expected: d.width, Err: pe.Err}
		}
		d.err = fmt.Errorf("read csv: %w", err)
		return Record{}, d.err
	}
	line, _ := d.cr.FieldPos(0)

	if d.width == 0 {
		// Headerless input: the first row fixes the width.
		d.width = len(row)
		d.headers = make([]string, len(row))
		for i := range d.headers {
			d.headers[i] = fmt.Sprintf("col_%d", i)
		}
	}
	if len(row) != d.width {
		return Record{}, &MalformedRowError{Line: line, Expected: d.width, Got: len(row), Raw: append([]string(nil), row...)}
	}

	rec := Record{
		Line:   line,
		Fields: make(map[string]string, len(row)),
		Raw:    make([]string, len(row)),
	}
	for i, v := range row {
		if d.opt.TrimSpace {
			v = strings.TrimSpace(v)
		}
		rec.Raw[i] = v
		if name := d.headers[i]; name != "" {
			rec.Fields[name] = v
		}
	}
	return rec, nil
}
