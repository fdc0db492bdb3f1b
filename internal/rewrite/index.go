package rewrite

import (
	"epubslim/internal/transform"
)

// Index looks up transform results by the original file name of the image.
type Index struct {
	byName map[string]*transform.Result
}

// NewIndex builds the lookup once per run.
func NewIndex(results []*transform.Result) *Index {
	ix := &Index{byName: make(map[string]*transform.Result, len(results))}
	for _, r := range results {
		ix.byName[r.Original.Name()] = r
	}
	return ix
}

// Lookup returns the result for an original image file name.
func (ix *Index) Lookup(name string) (*transform.Result, bool) {
	r, ok := ix.byName[name]
	return r, ok
}

// Len is the number of indexed images.
func (ix *Index) Len() int {
	return len(ix.byName)
}

// RenameMap maps original image file names to their new names.
type RenameMap map[string]string

// BuildRenameMap collects every image that was transformed successfully
// under a new name.
func BuildRenameMap(results []*transform.Result) RenameMap {
	m := make(RenameMap)
	for _, r := range results {
		if r.Success && r.Renamed() {
			m[r.Original.Name()] = r.NewName()
		}
	}
	return m
}
