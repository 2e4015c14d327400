package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
)

/*
makeCSV builds a CSV document in memory with the given header and rows. It
uses encoding/csv so quoting and escaping are correct.
*/
func makeCSV(delim rune, header []string, rows [][]string) []byte {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	w.Comma = delim
	if header != nil {
		_ = w.Write(header)
	}
	for _, r := range rows {
		_ = w.Write(r)
	}
	w.Flush()
	return b.Bytes()
}

// drain reads the decoder to the end, splitting good records and malformed
// row errors. Any other error fails the test.
func drain(t *testing.T, d *Decoder) ([]Record, []*MalformedRowError) {
	t.Helper()
	var recs []Record
	var bad []*MalformedRowError
	for {
		rec, err := d.Next()
		if err == io.EOF {
			return recs, bad
		}
		var me *MalformedRowError
		if errors.As(err, &me) {
			bad = append(bad, me)
			continue
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		recs = append(recs, rec)
	}
}

// TestDecoder_HeaderAndQuotedDelimiter verifies header mapping and that a
// quoted field containing the delimiter stays one field.
func TestDecoder_HeaderAndQuotedDelimiter(t *testing.T) {
	t.Parallel()

	data := makeCSV(',', []string{"id", "name", "email"}, [][]string{
		{"1", "Alice, Jr.", "a@x.com;b@x.com"},
		{"2", "Bob", ""},
	})
	d := NewDecoder(bytes.NewReader(data), Options{HasHeader: true})
	recs, bad := drain(t, d)
	if len(bad) != 0 {
		t.Fatalf("unexpected malformed rows: %v", bad)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records; want 2", len(recs))
	}
	if got := recs[0].Fields["name"]; got != "Alice, Jr." {
		t.Fatalf("name = %q; want %q", got, "Alice, Jr.")
	}
	if got := recs[1].Fields["email"]; got != "" {
		t.Fatalf("email = %q; want empty", got)
	}
	if recs[0].Line != 2 || recs[1].Line != 3 {
		t.Fatalf("lines = %d,%d; want 2,3", recs[0].Line, recs[1].Line)
	}
}

// TestDecoder_MalformedRowContinues covers the soft-fail contract: a row with
// the wrong width is reported with its line and widths, and decoding goes on.
func TestDecoder_MalformedRowContinues(t *testing.T) {
	t.Parallel()

	in := "id,name,email\n1,Alice,a@x.com\n2,Bob\n3,Carol,c@x.com\n"
	d := NewDecoder(strings.NewReader(in), Options{HasHeader: true})
	recs, bad := drain(t, d)

	if len(recs) != 2 {
		t.Fatalf("got %d records; want 2", len(recs))
	}
	if recs[0].Fields["id"] != "1" || recs[1].Fields["id"] != "3" {
		t.Fatalf("unexpected ids: %q %q", recs[0].Fields["id"], recs[1].Fields["id"])
	}
	if len(bad) != 1 {
		t.Fatalf("got %d malformed rows; want 1", len(bad))
	}
	if bad[0].Line != 3 || bad[0].Expected != 3 || bad[0].Got != 2 {
		t.Fatalf("malformed = %+v; want line 3 expected 3 got 2", *bad[0])
	}
}

// TestDecoder_SyntaxErrorIsMalformed checks that a quoting error becomes a
// MalformedRowError wrapping the parser cause.
func TestDecoder_SyntaxErrorIsMalformed(t *testing.T) {
	t.Parallel()

	in := "a,b\n1,\"broken\"x\n2,ok\n"
	d := NewDecoder(strings.NewReader(in), Options{HasHeader: true})
	recs, bad := drain(t, d)
	if len(bad) != 1 {
		t.Fatalf("got %d malformed rows; want 1", len(bad))
	}
	if bad[0].Err == nil {
		t.Fatalf("expected wrapped parse error")
	}
	if !errors.Is(bad[0], csv.ErrQuote) {
		t.Fatalf("err = %v; want csv.ErrQuote in chain", bad[0])
	}
	if len(recs) != 1 || recs[0].Fields["a"] != "2" {
		t.Fatalf("expected the row after the bad one to decode, got %+v", recs)
	}
}

// TestDecoder_Headerless synthesizes col_N names and fixes the width from the
// first row.
func TestDecoder_Headerless(t *testing.T) {
	t.Parallel()

	d := NewDecoder(strings.NewReader("1;x\n2;y;z\n3;w\n"), Options{Comma: ';'})
	recs, bad := drain(t, d)
	if len(recs) != 2 || len(bad) != 1 {
		t.Fatalf("got %d records, %d malformed; want 2, 1", len(recs), len(bad))
	}
	if recs[1].Fields["col_0"] != "3" || recs[1].Fields["col_1"] != "w" {
		t.Fatalf("fields = %v", recs[1].Fields)
	}
	h, err := d.Header()
	if err != nil || len(h) != 2 || h[0] != "col_0" {
		t.Fatalf("Header() = %v, %v", h, err)
	}
}

// TestDecoder_EmptyInput returns io.EOF straight away, with or without a
// header.
func TestDecoder_EmptyInput(t *testing.T) {
	t.Parallel()

	for _, hasHeader := range []bool{true, false} {
		d := NewDecoder(strings.NewReader(""), Options{HasHeader: hasHeader})
		if _, err := d.Next(); err != io.EOF {
			t.Fatalf("hasHeader=%v: Next() err = %v; want io.EOF", hasHeader, err)
		}
	}
}

// TestDecoder_HeaderNormalization strips the BOM, applies HeaderMap and folds
// the rest.
func TestDecoder_HeaderNormalization(t *testing.T) {
	t.Parallel()

	in := "\uFEFF ID ,Příjmení,Datum narození\n1,Novák,2001-02-03\n"
	d := NewDecoder(strings.NewReader(in), Options{
		HasHeader:   true,
		TrimSpace:   true,
		FoldHeaders: true,
		HeaderMap:   map[string]string{"ID": "id"},
	})
	h, err := d.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	want := []string{"id", "prijmeni", "datum_narozeni"}
	for i := range want {
		if h[i] != want[i] {
			t.Fatalf("header[%d] = %q; want %q", i, h[i], want[i])
		}
	}
	rec, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Fields["prijmeni"] != "Novák" {
		t.Fatalf("prijmeni = %q", rec.Fields["prijmeni"])
	}
}

// TestDecoder_ReadErrorIsFinal verifies that an I/O failure is not reported
// as a malformed row and ends the sequence.
func TestDecoder_ReadErrorIsFinal(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk gone")
	r := io.MultiReader(strings.NewReader("a,b\n1,2\n"), &failingReader{err: boom})
	d := NewDecoder(r, Options{HasHeader: true})
	if _, err := d.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	_, err := d.Next()
	if !errors.Is(err, boom) || IsMalformed(err) {
		t.Fatalf("err = %v; want wrapped I/O error", err)
	}
	if _, err2 := d.Next(); !errors.Is(err2, boom) {
		t.Fatalf("error should be sticky, got %v", err2)
	}
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestFoldName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Příjmení":         "prijmeni",
		"  Datum - Od.  ":  "datum_od",
		"e-mail":           "e_mail",
		"!!!":              "field",
		"already_snake_42": "already_snake_42",
	}
	for in, want := range cases {
		if got := FoldName(in); got != want {
			t.Fatalf("FoldName(%q) = %q; want %q", in, got, want)
		}
	}
}

// TestRewriter_SpansChunks makes sure a match split across reads is still
// replaced.
func TestRewriter_SpansChunks(t *testing.T) {
	t.Parallel()

	from := ` "v likvidaci""`
	to := ` (v likvidaci)"`
	payload := strings.Repeat("x", 64*1024-5) + from + "tail"
	rw := newRewriter(strings.NewReader(payload), []Replacement{{From: from, To: to}})
	out, err := io.ReadAll(rw)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := strings.Repeat("x", 64*1024-5) + to + "tail"
	if string(out) != want {
		t.Fatalf("rewritten output mismatch (len %d vs %d)", len(out), len(want))
	}
}
