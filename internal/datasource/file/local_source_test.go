package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "person.csv")
	if err := os.WriteFile(p, []byte("id,name\n1,Alice\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rc, err := NewLocal(p).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || string(b) != "id,name\n1,Alice\n" {
		t.Fatalf("read = %q, %v", b, err)
	}

	_, err = NewLocal(filepath.Join(dir, "knows.csv")).Open(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if rc, err := NewLocal(p).Open(ctx); !errors.Is(err, context.Canceled) || rc != nil {
		t.Fatalf("cancelled open = %v, %v", rc, err)
	}
}

func TestLocalStem(t *testing.T) {
	t.Parallel()

	for _, c := range []struct{ path, stem string }{
		{filepath.Join("data", "vertices", "person.csv"), "person"},
		{"knows.tsv", "knows"},
		{filepath.Join("data", "edges", "works_at"), "works_at"},
		{"archive.2024.csv", "archive.2024"},
	} {
		l := NewLocal(c.path)
		if l.Stem() != c.stem || l.Name() != c.path {
			t.Fatalf("%s: stem=%q name=%q", c.path, l.Stem(), l.Name())
		}
	}
}

// BenchmarkLocalOpen measures open plus the read-ahead hint.
func BenchmarkLocalOpen(b *testing.B) {
	p := filepath.Join(b.TempDir(), "person.csv")
	if err := os.WriteFile(p, []byte("id\n1\n"), 0o644); err != nil {
		b.Fatal(err)
	}
	src := NewLocal(p)
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rc, err := src.Open(ctx)
		if err != nil {
			b.Fatal(err)
		}
		rc.Close()
	}
}
