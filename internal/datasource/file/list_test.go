package file

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		p := filepath.Join(root, filepath.FromSlash(r))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("id\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListCSV_WalksSortedAndSkipsHidden(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root,
		"b.csv",
		"a/z.csv",
		"a/deeper/m.csv",
		".git/config",
		"a/.hidden.csv",
		"c.csv",
	)
	got, err := ListCSV(root)
	if err != nil {
		t.Fatalf("ListCSV: %v", err)
	}
	want := []string{
		filepath.Join(root, "a", "deeper", "m.csv"),
		filepath.Join(root, "a", "z.csv"),
		filepath.Join(root, "b.csv"),
		filepath.Join(root, "c.csv"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ListCSV = %#v, want %#v", got, want)
	}
}

func TestListCSV_FileAndMissing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "only.csv")
	p := filepath.Join(root, "only.csv")
	got, err := ListCSV(p)
	if err != nil || len(got) != 1 || got[0] != p {
		t.Fatalf("ListCSV(file) = %v, %v", got, err)
	}
	if _, err := ListCSV(filepath.Join(root, "nope")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing root err = %v", err)
	}

	all, err := ListAll([]string{p, p})
	if err != nil || len(all) != 2 {
		t.Fatalf("ListAll = %v, %v", all, err)
	}
}

func TestReadList_Basic(t *testing.T) {
	t.Parallel()

	content := `
# vertex files
data/person.csv
   # indented comment
data/place.csv

   data/edges
`
	path := writeTempFile(t, content)

	got, err := ReadList(path)
	if err != nil {
		t.Fatalf("ReadList error: %v", err)
	}

	want := []string{"data/person.csv", "data/place.csv", "data/edges"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadList(%q) = %#v, want %#v", path, got, want)
	}
}

func TestReadList_EmptyFile(t *testing.T) {
	t.Parallel()

	path := writeTempFile(t, "")
	got, err := ReadList(path)
	if err != nil {
		t.Fatalf("ReadList error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %#v", got)
	}
}

func TestReadList_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := ReadList("does-not-exist-12345.txt")
	if err == nil {
		t.Fatalf("expected error for missing file, got nil")
	}
}
