package dataset

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestLoader_BatchesCoverOrder(t *testing.T) {
	root := makeFolder(t, map[string]int{"a": 3, "b": 2}, 8)
	f, err := ScanDir(root)
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewLoader(f.Samples, EvalTransform(8), 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	var sizes []int
	var labels []int
	err = l.Each(context.Background(), Sequential(l.Len()), func(b Batch) error {
		sizes = append(sizes, b.Len())
		labels = append(labels, b.Y...)
		for _, x := range b.X {
			if len(x) != 64 {
				t.Fatalf("example len=%d", len(x))
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
	if len(sizes) != 3 || sizes[2] != 1 {
		t.Fatalf("batch sizes=%v", sizes)
	}
	want := []int{0, 0, 0, 1, 1}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels=%v", labels)
		}
	}
}

func TestLoader_PropagatesErrors(t *testing.T) {
	bad := []Sample{{Path: filepath.Join(t.TempDir(), "missing.png")}}
	l, _ := NewLoader(bad, EvalTransform(8), 4, nil)
	if err := l.Each(context.Background(), []int{0}, func(Batch) error { return nil }); err == nil {
		t.Fatalf("expected error for missing file")
	}

	root := makeFolder(t, map[string]int{"a": 2}, 8)
	f, _ := ScanDir(root)
	l, _ = NewLoader(f.Samples, EvalTransform(8), 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Each(ctx, Sequential(2), func(Batch) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, _, err := l.Example(5); err == nil {
		t.Fatalf("expected out of range error")
	}
	if _, err := NewLoader(nil, EvalTransform(8), 0, nil); err == nil {
		t.Fatalf("expected batch size error")
	}
}
