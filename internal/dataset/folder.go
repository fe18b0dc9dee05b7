// Package dataset loads labelled images from a class-per-directory layout,
// splits them into partitions and draws class-balanced training orders.
package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"emotiond/internal/common/fsutil"
)

// DefaultExtensions are the file extensions treated as images by ScanDir.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// Sample is one labelled image on disk.
type Sample struct {
	Path  string `json:"path"`
	Label int    `json:"label"`
}

// Folder is the result of scanning a dataset root: the sorted class
// vocabulary and every image under it, ordered by class then path.
type Folder struct {
	Root    string
	Classes []string
	Samples []Sample
}

// ScanDir scans root, treating each immediate subdirectory as a class name
// and every image file below it as a sample of that class. Class indices
// follow the lexical order of the directory names.
func ScanDir(root string, extensions ...string) (*Folder, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	f := &Folder{Root: abs}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		f.Classes = append(f.Classes, e.Name())
	}
	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("no class directories in %s", abs)
	}
	sort.Strings(f.Classes)

	for label, class := range f.Classes {
		dir := filepath.Join(abs, class)
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != dir && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if hasExtension(d.Name(), extensions) {
				f.Samples = append(f.Samples, Sample{Path: p, Label: label})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan class %s: %w", class, err)
		}
	}
	if len(f.Samples) == 0 {
		return nil, fmt.Errorf("no images found in %s", abs)
	}
	return f, nil
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Len returns the number of samples.
func (f *Folder) Len() int { return len(f.Samples) }

// NumClasses returns the size of the class vocabulary.
func (f *Folder) NumClasses() int { return len(f.Classes) }

// ClassIndex returns the label index of a class name.
func (f *Folder) ClassIndex(name string) (int, bool) {
	i := sort.SearchStrings(f.Classes, name)
	if i < len(f.Classes) && f.Classes[i] == name {
		return i, true
	}
	return 0, false
}

// Labels returns the label of every sample in order.
func Labels(samples []Sample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = s.Label
	}
	return out
}

// ClassCounts returns the number of samples per label, indexed by label.
func ClassCounts(samples []Sample, numClasses int) []int {
	counts := make([]int, numClasses)
	for _, s := range samples {
		if s.Label >= 0 && s.Label < numClasses {
			counts[s.Label]++
		}
	}
	return counts
}

// Distribution maps class name to sample count.
func (f *Folder) Distribution(samples []Sample) map[string]int {
	counts := ClassCounts(samples, len(f.Classes))
	out := make(map[string]int, len(counts))
	for i, c := range counts {
		out[f.Classes[i]] = c
	}
	return out
}
