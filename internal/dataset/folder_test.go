package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestScanDir_ClassesSortedAndLabelled(t *testing.T) {
	root := makeFolder(t, map[string]int{"sad": 2, "angry": 3, "happy": 1}, 8)
	// noise that must be ignored
	if err := os.WriteFile(filepath.Join(root, "README.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "angry", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".cache"), 0o755); err != nil {
		t.Fatal(err)
	}

	f, err := ScanDir(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if want := []string{"angry", "happy", "sad"}; !reflect.DeepEqual(f.Classes, want) {
		t.Fatalf("classes=%v want %v", f.Classes, want)
	}
	if f.Len() != 6 {
		t.Fatalf("samples=%d want 6", f.Len())
	}
	if got := ClassCounts(f.Samples, f.NumClasses()); !reflect.DeepEqual(got, []int{3, 1, 2}) {
		t.Fatalf("counts=%v", got)
	}
	for _, s := range f.Samples {
		if filepath.Base(filepath.Dir(s.Path)) != f.Classes[s.Label] {
			t.Fatalf("sample %s labelled %d", s.Path, s.Label)
		}
	}
	if i, ok := f.ClassIndex("sad"); !ok || i != 2 {
		t.Fatalf("ClassIndex(sad)=%d,%v", i, ok)
	}
	if _, ok := f.ClassIndex("fear"); ok {
		t.Fatalf("unexpected class fear")
	}
	if d := f.Distribution(f.Samples); d["angry"] != 3 || d["happy"] != 1 {
		t.Fatalf("distribution=%v", d)
	}
}

func TestScanDir_Errors(t *testing.T) {
	if _, err := ScanDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	empty := t.TempDir()
	if _, err := ScanDir(empty); err == nil {
		t.Fatalf("expected error for no classes")
	}
	if err := os.MkdirAll(filepath.Join(empty, "angry"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := ScanDir(empty); err == nil {
		t.Fatalf("expected error for no images")
	}
}
