package pipeline

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Bucket is a file count and byte total for one slice of an archive.
type Bucket struct {
	Name    string
	Files   int
	Bytes   int64
	Percent float64
}

// MiB is the byte total in mebibytes, rounded to two places.
func (b Bucket) MiB() float64 {
	return round2(float64(b.Bytes) / (1024 * 1024))
}

// DirStats breaks one directory down by suffix.
type DirStats struct {
	Bucket
	Suffixes []Bucket
}

// Analytics describes the contents of an unpacked archive.
type Analytics struct {
	Total DirStats
	Dirs  []DirStats
}

// collectAnalytics walks root and groups every regular file by directory
// and lower-cased suffix. Directory names are slash-separated and relative.
func collectAnalytics(root string) (Analytics, error) {
	type key struct{ dir, suffix string }
	bytes := make(map[key]int64)
	files := make(map[key]int)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		k := key{dir: filepath.ToSlash(rel), suffix: strings.ToLower(filepath.Ext(path))}
		bytes[k] += info.Size()
		files[k]++
		return nil
	})
	if err != nil {
		return Analytics{}, err
	}

	var a Analytics
	a.Total.Name = "TOTAL"
	byDir := make(map[string]*DirStats)
	for k, n := range files {
		ds, ok := byDir[k.dir]
		if !ok {
			ds = &DirStats{Bucket: Bucket{Name: k.dir}}
			byDir[k.dir] = ds
		}
		ds.Files += n
		ds.Bytes += bytes[k]
		ds.Suffixes = append(ds.Suffixes, Bucket{Name: k.suffix, Files: n, Bytes: bytes[k]})
		a.Total.Files += n
		a.Total.Bytes += bytes[k]
	}

	a.Total.Percent = 100
	for _, ds := range byDir {
		ds.Percent = percentOf(ds.Bytes, a.Total.Bytes)
		for i := range ds.Suffixes {
			ds.Suffixes[i].Percent = percentOf(ds.Suffixes[i].Bytes, a.Total.Bytes)
		}
		sort.Slice(ds.Suffixes, func(i, j int) bool { return ds.Suffixes[i].Name < ds.Suffixes[j].Name })
		a.Dirs = append(a.Dirs, *ds)
	}
	sort.Slice(a.Dirs, func(i, j int) bool { return a.Dirs[i].Name < a.Dirs[j].Name })
	return a, nil
}

func percentOf(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
