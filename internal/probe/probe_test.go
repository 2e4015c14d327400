package probe

import (
	"strings"
	"testing"

	"graphload/internal/config"
)

const sample = "id,Příjmení,email,score,active,born,note\n" +
	"1,Novák,a@x.com;b@x.com,1.5,true,01.02.1990,\n" +
	"2,Svoboda,,2,FALSE,31.12.1985,x\n" +
	"3,Dvořák,c@x.com,3.25,true,,7\n" +
	"4,broken\n"

func TestSample_InfersKinds(t *testing.T) {
	t.Parallel()

	p, err := Sample(strings.NewReader(sample), Options{})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if p.Rows != 3 || p.Malformed != 1 {
		t.Fatalf("rows=%d malformed=%d", p.Rows, p.Malformed)
	}
	want := map[string]config.Property{
		"id":       {Type: "integer"},
		"Příjmení": {Type: "string"},
		"email":    {Type: "string", Cardinality: "list"},
		"score":    {Type: "float"},
		"active":   {Type: "boolean"},
		"born":     {Type: "date", Layout: "02.01.2006"},
		"note":     {Type: "string"},
	}
	if len(p.Columns) != len(want) {
		t.Fatalf("columns = %+v", p.Columns)
	}
	for _, c := range p.Columns {
		if c.Property != want[c.Name] {
			t.Fatalf("%s = %+v; want %+v", c.Name, c.Property, want[c.Name])
		}
	}
	if p.Columns[0].NonEmpty != 3 {
		t.Fatalf("id non-empty = %d", p.Columns[0].NonEmpty)
	}
}

func TestSample_MaxRowsAndEmpty(t *testing.T) {
	t.Parallel()

	p, err := Sample(strings.NewReader("n\n1\n2\nx\n"), Options{MaxRows: 2})
	if err != nil || p.Columns[0].Property.Type != "integer" {
		t.Fatalf("limited sample = %+v, %v", p, err)
	}
	p, err = Sample(strings.NewReader(""), Options{})
	if err != nil || len(p.Columns) != 0 {
		t.Fatalf("empty input = %+v, %v", p, err)
	}
}

func TestProposal_YAMLFoldsHeaders(t *testing.T) {
	t.Parallel()

	p, err := Sample(strings.NewReader(sample), Options{FoldHeaders: true})
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.YAML("people")
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	j, err := config.Decode(out, ".yaml")
	if err != nil {
		t.Fatalf("proposal does not decode: %v\n%s", err, out)
	}
	if j.Schema.Properties["prijmeni"].Type != "string" {
		t.Fatalf("folded property missing:\n%s", out)
	}
	if j.CSV.HeaderMap["Příjmení"] != "prijmeni" {
		t.Fatalf("header map = %v", j.CSV.HeaderMap)
	}
	if _, err := j.Table(); err != nil {
		t.Fatalf("Table: %v", err)
	}
}
