package rewrite

import (
	"encoding/xml"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// containerXML models META-INF/container.xml.
type containerXML struct {
	XMLName   xml.Name `xml:"container"`
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

const containerPath = "META-INF/container.xml"

// FindPackageDocument returns the path of the OPF package document inside
// root, preferring container.xml and falling back to the first *.opf file.
func FindPackageDocument(root string) (string, error) {
	if data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(containerPath))); err == nil {
		var c containerXML
		if err := xml.Unmarshal(stripBOM(data), &c); err == nil {
			for _, rf := range c.RootFiles {
				full := strings.TrimSpace(rf.FullPath)
				if full == "" {
					continue
				}
				p := filepath.Join(root, filepath.FromSlash(full))
				if _, err := os.Stat(p); err == nil {
					return p, nil
				}
			}
		}
	}

	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".opf") {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", ErrNoPackage
	}
	return found, nil
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

var manifestItemPattern = regexp.MustCompile(`(?is)<item\b(?:[^>"']|"[^"]*"|'[^']*')*>`)

// RewriteManifest points every manifest item that refers to a renamed image
// at its new file name and media type. It returns the number of items changed.
func RewriteManifest(opfPath, imagesDir string, renames RenameMap) (int, error) {
	if len(renames) == 0 {
		return 0, nil
	}

	data, err := os.ReadFile(opfPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParse, err)
	}

	opfDir := filepath.Dir(opfPath)
	imagesDir = filepath.Clean(imagesDir)
	changed := 0

	out := manifestItemPattern.ReplaceAllFunc(data, func(item []byte) []byte {
		start, end, ok := attrValueRange(item, "href")
		if !ok {
			return item
		}
		href := html.UnescapeString(strings.Trim(string(item[start:end]), `"'`))

		rel, ok := localPath(href)
		if !ok {
			return item
		}
		resolved := filepath.Clean(filepath.Join(opfDir, filepath.FromSlash(rel)))
		if filepath.Dir(resolved) != imagesDir {
			return item
		}
		newName, renamed := renames[filepath.Base(resolved)]
		if !renamed {
			return item
		}

		patched := spliceSegment(item, start, end, newName)
		if mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(newName))); mediaType != "" {
			patched = replaceAttrValue(patched, "media-type", mediaType)
		}
		changed++
		return patched
	})

	if changed == 0 {
		return 0, nil
	}
	if err := writeDocument(opfPath, out); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrWrite, filepath.Base(opfPath), err)
	}
	return changed, nil
}

func replaceAttrValue(tag []byte, name, value string) []byte {
	start, end, ok := attrValueRange(tag, name)
	if !ok {
		return tag
	}
	quote := `"`
	if tag[start] == '\'' {
		quote = "'"
	}
	out := make([]byte, 0, len(tag)+len(value))
	out = append(out, tag[:start]...)
	out = append(out, quote+html.EscapeString(value)+quote...)
	out = append(out, tag[end:]...)
	return out
}
