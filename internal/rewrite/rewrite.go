// Package rewrite updates <img src> references in content documents so they
// follow renamed images, and counts the references each image receives.
package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"epubslim/internal/transform"
)

// DocumentResult is the outcome of rewriting one content document.
type DocumentResult struct {
	Path              string
	ReferencesUpdated int
	Warnings          []string
	Err               error
}

// Name is the file name of the document.
func (d *DocumentResult) Name() string {
	return filepath.Base(d.Path)
}

func (d *DocumentResult) Success() bool {
	return d.Err == nil
}

func (d *DocumentResult) warnf(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// Rewriter holds the read-only state shared by every document task. The
// transform results reachable through Index are the only shared mutable
// state, and only through their atomic reference counters.
type Rewriter struct {
	ImagesDir string
	Index     *Index
	Renames   RenameMap
}

// Rewrite scans the document at path for image references, counts them
// against the indexed images, and rewrites the ones whose image was renamed.
// The document is written back only when something changed.
func (rw *Rewriter) Rewrite(path string) *DocumentResult {
	res := &DocumentResult{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrParse, err)
		return res
	}
	if !utf8.Valid(data) {
		res.Err = fmt.Errorf("%w: %s is not valid UTF-8", ErrParse, res.Name())
		return res
	}

	out, pending, err := rw.rewriteTokens(data, filepath.Dir(path), res)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %v", ErrParse, res.Name(), err)
		return res
	}

	if res.ReferencesUpdated == 0 {
		return res
	}

	if err := writeDocument(path, out); err != nil {
		res.Err = fmt.Errorf("%w: %s: %v", ErrWrite, res.Name(), err)
		return res
	}

	for r, n := range pending {
		r.AddUpdated(n)
	}
	return res
}

func (rw *Rewriter) rewriteTokens(data []byte, docDir string, res *DocumentResult) ([]byte, map[*transform.Result]int64, error) {
	var out bytes.Buffer
	out.Grow(len(data))
	pending := make(map[*transform.Result]int64)

	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		tt := z.Next()
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				out.Write(raw)
				return out.Bytes(), pending, nil
			}
			return nil, nil, z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			if tt == html.SelfClosingTagToken {
				// <title/>, <script/> and <style/> have no raw text to read.
				z.NextIsNotRawText()
			}
			name, hasAttr := z.TagName()
			if atom.Lookup(name) != atom.Img || !hasAttr {
				break
			}
			src, ok := imgSrc(z)
			if !ok {
				break
			}
			if replaced, r := rw.reference(src, docDir, res); r != nil {
				if patched, ok := replaceSrc(raw, replaced); ok {
					raw = patched
					pending[r]++
					res.ReferencesUpdated++
				} else {
					res.warnf("could not rewrite src %q", src)
				}
			}
		}

		out.Write(raw)
	}
}

func imgSrc(z *html.Tokenizer) (string, bool) {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "src" {
			return string(val), true
		}
		if !more {
			return "", false
		}
	}
}

// reference resolves one src value. It counts the reference against its
// image and, when the image was renamed, returns the new file name together
// with the result whose updated counter should follow a successful write.
func (rw *Rewriter) reference(src, docDir string, res *DocumentResult) (string, *transform.Result) {
	rel, ok := localPath(src)
	if !ok {
		return "", nil
	}

	resolved := filepath.Clean(filepath.Join(docDir, filepath.FromSlash(rel)))
	if filepath.Dir(resolved) != filepath.Clean(rw.ImagesDir) {
		res.warnf("image reference %s is outside the images directory", src)
		return "", nil
	}

	name := filepath.Base(resolved)
	r, found := rw.Index.Lookup(name)
	if !found {
		res.warnf("reference to unknown image %s", name)
		return "", nil
	}

	r.AddReference()
	newName, renamed := rw.Renames[name]
	if !renamed {
		return "", nil
	}
	return newName, r
}

// localPath strips query and fragment from a relative reference and decodes
// it. Remote, data and absolute references are not local.
func localPath(src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "/") || strings.HasPrefix(src, "#") {
		return "", false
	}
	u, err := url.Parse(src)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	if u.Path == "" {
		return "", false
	}
	return u.Path, true
}

// replaceSrc swaps the last path segment of the src attribute inside a raw
// tag, leaving every other byte of the tag as written.
func replaceSrc(tag []byte, newName string) ([]byte, bool) {
	start, end, ok := attrValueRange(tag, "src")
	if !ok {
		return nil, false
	}
	return spliceSegment(tag, start, end, newName), true
}

// attrValueRange lexes the attributes of a raw start tag in order and
// returns the byte range of the first value of the named attribute, quotes
// included. Quoted values of other attributes are skipped whole.
func attrValueRange(tag []byte, name string) (int, int, bool) {
	i := 0
	if i < len(tag) && tag[i] == '<' {
		i++
	}
	for i < len(tag) && !isTagSpace(tag[i]) && tag[i] != '/' && tag[i] != '>' {
		i++
	}

	for i < len(tag) {
		for i < len(tag) && (isTagSpace(tag[i]) || tag[i] == '/') {
			i++
		}
		if i >= len(tag) || tag[i] == '>' {
			return 0, 0, false
		}

		nameStart := i
		// An attribute name may begin with '=' but not contain one later.
		i++
		for i < len(tag) && !isTagSpace(tag[i]) && tag[i] != '/' && tag[i] != '>' && tag[i] != '=' {
			i++
		}
		attr := tag[nameStart:i]

		j := i
		for j < len(tag) && isTagSpace(tag[j]) {
			j++
		}
		if j >= len(tag) || tag[j] != '=' {
			continue
		}
		j++
		for j < len(tag) && isTagSpace(tag[j]) {
			j++
		}

		valStart := j
		switch {
		case j >= len(tag):
			return 0, 0, false
		case tag[j] == '"' || tag[j] == '\'':
			q := tag[j]
			k := bytes.IndexByte(tag[j+1:], q)
			if k < 0 {
				return 0, 0, false
			}
			j += k + 2
		default:
			for j < len(tag) && !isTagSpace(tag[j]) && tag[j] != '>' {
				j++
			}
		}
		if strings.EqualFold(string(attr), name) && j > valStart {
			return valStart, j, true
		}
		i = j
	}
	return 0, 0, false
}

func isTagSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f'
}

// spliceSegment replaces the file name at the end of the attribute value
// tag[start:end], keeping its quotes, directory, query and fragment.
func spliceSegment(tag []byte, start, end int, newName string) []byte {
	value := string(tag[start:end])

	quote := ""
	if strings.HasPrefix(value, `"`) || strings.HasPrefix(value, `'`) {
		quote = value[:1]
		value = value[1 : len(value)-1]
	}

	rest := ""
	if i := suffixStart(value); i >= 0 {
		value, rest = value[:i], value[i:]
	}
	dir := ""
	if i := strings.LastIndex(value, "/"); i >= 0 {
		dir = value[:i+1]
	}
	patched := quote + dir + html.EscapeString(url.PathEscape(newName)) + rest + quote

	out := make([]byte, 0, len(tag)+len(patched)-(end-start))
	out = append(out, tag[:start]...)
	out = append(out, patched...)
	out = append(out, tag[end:]...)
	return out
}

// suffixStart finds the query or fragment of a raw attribute value. A '#'
// that opens a character reference such as &#38; is part of the path.
func suffixStart(value string) int {
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '?':
			return i
		case '#':
			if i == 0 || value[i-1] != '&' {
				return i
			}
		}
	}
	return -1
}

var writeDocument = writeFile

// writeFile replaces path through a scratch file in the same directory.
func writeFile(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".epubslim-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmpFile.Name())

	if err := tmpFile.Chmod(info.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpFile.Name(), path)
}
