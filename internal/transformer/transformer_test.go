package transformer

import (
	"errors"
	"testing"
	"time"

	"graphload/internal/parser/csv"
	"graphload/internal/schema"
)

var (
	intType  = schema.PropertyType{Kind: schema.KindInteger}
	boolType = schema.PropertyType{Kind: schema.KindBoolean}
	strType  = schema.PropertyType{Kind: schema.KindString}
	strList  = schema.PropertyType{Kind: schema.KindString, Cardinality: schema.CardinalityList}
	intList  = schema.PropertyType{Kind: schema.KindInteger, Cardinality: schema.CardinalityList}
)

// TestCoerce_Scalars is a table-driven check of the single-cardinality rules:
// base-10 integers, strict true/false booleans and pass-through strings.
func TestCoerce_Scalars(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		pt      schema.PropertyType
		want    schema.Value
		wantErr bool
	}{
		{"42", intType, schema.Int(42), false},
		{"-7", intType, schema.Int(-7), false},
		{" 13 ", intType, schema.Int(13), false},
		{"4x", intType, schema.Value{}, true},
		{"1.0", intType, schema.Value{}, true},
		{"99999999999999999999", intType, schema.Value{}, true},
		{"TRUE", boolType, schema.Bool(true), false},
		{"false", boolType, schema.Bool(false), false},
		{"yes", boolType, schema.Value{}, true},
		{"1", boolType, schema.Value{}, true},
		{"  Alice ", strType, schema.String("  Alice "), false},
		{"", strType, schema.String(""), false},
	}
	for _, c := range cases {
		got, err := Coerce(c.raw, c.pt)
		if c.wantErr {
			var te *TypeCoercionError
			if !errors.As(err, &te) {
				t.Fatalf("Coerce(%q, %s) err = %v; want *TypeCoercionError", c.raw, c.pt, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Coerce(%q, %s): %v", c.raw, c.pt, err)
		}
		v, ok := got.Single()
		if !ok || !v.Equal(c.want) {
			t.Fatalf("Coerce(%q, %s) = %v; want %v", c.raw, c.pt, v, c.want)
		}
	}
}

// TestCoerce_EmptySingle returns ErrEmptyValue for non-string kinds so the
// builder can omit the property.
func TestCoerce_EmptySingle(t *testing.T) {
	t.Parallel()

	for _, pt := range []schema.PropertyType{intType, boolType, {Kind: schema.KindDate}} {
		if _, err := Coerce("  ", pt); !errors.Is(err, ErrEmptyValue) {
			t.Fatalf("Coerce(blank, %s) err = %v; want ErrEmptyValue", pt, err)
		}
	}
}

// TestCoerce_Lists covers list cardinality: empty field gives an empty list,
// one value gives a one-element list, and elements are trimmed and typed.
func TestCoerce_Lists(t *testing.T) {
	t.Parallel()

	p, err := Coerce("", strList)
	if err != nil {
		t.Fatalf("Coerce(empty list): %v", err)
	}
	if p.Cardinality != schema.CardinalityList || p.Values == nil || len(p.Values) != 0 {
		t.Fatalf("empty list = %+v; want empty non-nil list", p)
	}

	p, err = Coerce("a@x.com", strList)
	if err != nil || len(p.Values) != 1 || p.Values[0].Str() != "a@x.com" {
		t.Fatalf("single-element list = %+v, %v", p, err)
	}

	p, err = Coerce(" a@x.com ; b@x.com ;", strList)
	if err != nil {
		t.Fatalf("Coerce: %v", err)
	}
	if len(p.Values) != 2 || p.Values[0].Str() != "a@x.com" || p.Values[1].Str() != "b@x.com" {
		t.Fatalf("list = %v; want [a@x.com b@x.com]", p.Values)
	}

	p, err = Coerce("1;2;3", intList)
	if err != nil || len(p.Values) != 3 || p.Values[2].Int() != 3 {
		t.Fatalf("int list = %+v, %v", p, err)
	}
	if _, err := Coerce("1;two", intList); err == nil {
		t.Fatalf("expected coercion error for bad list element")
	}
}

func TestCoerce_Dates(t *testing.T) {
	t.Parallel()

	want := time.Date(2011, 10, 7, 0, 0, 0, 0, time.UTC)

	p, err := Coerce("2011-10-07", schema.PropertyType{Kind: schema.KindDate})
	if err != nil {
		t.Fatalf("default layout: %v", err)
	}
	if v, _ := p.Single(); !v.Time().Equal(want) {
		t.Fatalf("date = %v; want %v", v.Time(), want)
	}

	p, err = Coerce("07.10.2011", schema.PropertyType{Kind: schema.KindDate, Layout: "02.01.2006"})
	if err != nil {
		t.Fatalf("dmy layout: %v", err)
	}
	if v, _ := p.Single(); !v.Time().Equal(want) {
		t.Fatalf("date = %v; want %v", v.Time(), want)
	}

	if _, err := Coerce("31.02.2011", schema.PropertyType{Kind: schema.KindDate, Layout: "02.01.2006"}); err == nil {
		t.Fatalf("expected error for 31 February")
	}
}

// TestBuild_Contract checks the builder rules: unknown columns ignored,
// declared-but-missing columns omitted, list cardinality applied.
func TestBuild_Contract(t *testing.T) {
	t.Parallel()

	table := schema.MustTable(map[string]schema.PropertyType{
		"id":      intType,
		"name":    strType,
		"email":   strList,
		"surname": strType,
	})
	raw := csv.Record{Line: 3, Fields: map[string]string{
		"id":    "2",
		"name":  "Bob",
		"email": "",
		"extra": "ignored",
	}}
	rec, err := Build(raw, table, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := rec["extra"]; ok {
		t.Fatalf("undeclared column leaked into record")
	}
	if _, ok := rec["surname"]; ok {
		t.Fatalf("missing column should be omitted")
	}
	email := rec["email"]
	if email.Cardinality != schema.CardinalityList || len(email.Values) != 0 {
		t.Fatalf("email = %+v; want empty list", email)
	}
	if v, _ := rec["id"].Single(); v.Int() != 2 {
		t.Fatalf("id = %v; want 2", v)
	}
}

// TestBuild_CoercionErrorCarriesColumnAndLine makes sure the failing column
// and source line are reported.
func TestBuild_CoercionErrorCarriesColumnAndLine(t *testing.T) {
	t.Parallel()

	table := schema.MustTable(map[string]schema.PropertyType{"id": intType})
	_, err := Build(csv.Record{Line: 7, Fields: map[string]string{"id": "seven"}}, table, BuildOptions{})
	var te *TypeCoercionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v; want *TypeCoercionError", err)
	}
	if te.Column != "id" || te.Line != 7 || te.Raw != "seven" {
		t.Fatalf("error = %+v", te)
	}
}

func TestBuild_CustomSeparator(t *testing.T) {
	t.Parallel()

	table := schema.MustTable(map[string]schema.PropertyType{"tags": strList})
	rec, err := Build(csv.Record{Fields: map[string]string{"tags": "a|b"}}, table, BuildOptions{ListSeparator: "|"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n := len(rec["tags"].Values); n != 2 {
		t.Fatalf("tags has %d values; want 2", n)
	}
}

func TestMissingColumns(t *testing.T) {
	t.Parallel()

	table := schema.MustTable(map[string]schema.PropertyType{"id": intType, "name": strType, "email": strList})
	got := MissingColumns([]string{"id", "name", "other"}, table)
	if len(got) != 1 || got[0] != "email" {
		t.Fatalf("MissingColumns = %v; want [email]", got)
	}
}

// TestPlan_CoerceUnknown falls back to a plain string for undeclared names.
func TestPlan_CoerceUnknown(t *testing.T) {
	t.Parallel()

	p := Compile(schema.MustTable(map[string]schema.PropertyType{"id": intType}), BuildOptions{})
	got, err := p.Coerce("id", "5")
	if err != nil || got.Kind != schema.KindInteger {
		t.Fatalf("Coerce(id) = %+v, %v", got, err)
	}
	got, err = p.Coerce("code", "5")
	if err != nil || got.Kind != schema.KindString {
		t.Fatalf("Coerce(code) = %+v, %v", got, err)
	}
}
