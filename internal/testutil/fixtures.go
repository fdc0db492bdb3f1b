// Package testutil builds image and archive fixtures for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// NoiseRGBA returns an image of pseudo-random opaque pixels, which compresses
// badly as PNG and well enough as JPEG.
func NoiseRGBA(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 0xff
	}
	return img
}

// NoiseNRGBA returns pseudo-random pixels that all carry the given alpha.
func NoiseNRGBA(w, h int, seed int64, alpha uint8) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = alpha
	}
	return img
}

// Solid returns a single-colour opaque image.
func Solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// WritePNG encodes img with the standard encoder. Opaque images come out as
// RGB PNGs because the encoder drops a redundant alpha channel.
func WritePNG(t testing.TB, path string, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return writeFile(t, path, buf.Bytes())
}

// WriteJPEG encodes img at the given quality.
func WriteJPEG(t testing.TB, path string, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return writeFile(t, path, buf.Bytes())
}

// WriteRGBAPNG writes img as an 8-bit RGBA PNG even when every pixel is
// opaque, which the standard encoder refuses to do.
func WriteRGBAPNG(t testing.TB, path string, img *image.NRGBA) []byte {
	t.Helper()
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var raw bytes.Buffer
	for y := b.Min.Y; y < b.Max.Y; y++ {
		raw.WriteByte(0)
		off := img.PixOffset(b.Min.X, y)
		raw.Write(img.Pix[off : off+w*4])
	}

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		t.Fatalf("deflate: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("deflate: %v", err)
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], uint32(w))
	binary.BigEndian.PutUint32(ihdr[4:], uint32(h))
	ihdr[8] = 8
	ihdr[9] = 6

	out := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	out = append(out, buildPNGChunk("IHDR", ihdr)...)
	out = append(out, buildPNGChunk("IDAT", z.Bytes())...)
	out = append(out, buildPNGChunk("IEND", nil)...)
	return writeFile(t, path, out)
}

func buildPNGChunk(chunkType string, data []byte) []byte {
	chunkTypeBytes := []byte(chunkType)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	crc := crc32.ChecksumIEEE(append(append([]byte{}, chunkTypeBytes...), data...))
	crcBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBuf, crc)

	chunk := make([]byte, 0, 12+len(data))
	chunk = append(chunk, lenBuf...)
	chunk = append(chunk, chunkTypeBytes...)
	chunk = append(chunk, data...)
	chunk = append(chunk, crcBuf...)
	return chunk
}

func writeFile(t testing.TB, path string, data []byte) []byte {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}

// Chapter renders a minimal XHTML chapter containing one <img> per src.
func Chapter(srcs ...string) string {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	buf.WriteString(`<!DOCTYPE html>` + "\n")
	buf.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml"><head><title>Chapter</title></head><body>` + "\n")
	for _, src := range srcs {
		buf.WriteString(`<p><img src="` + src + `" alt="figure"/></p>` + "\n")
	}
	buf.WriteString("</body></html>\n")
	return buf.String()
}

// OPF renders a package document whose manifest lists the given hrefs.
func OPF(hrefs map[string]string) string {
	ids := make([]string, 0, len(hrefs))
	for href := range hrefs {
		ids = append(ids, href)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	buf.WriteString(`<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">` + "\n")
	buf.WriteString("<manifest>\n")
	for i, href := range ids {
		buf.WriteString(`  <item id="item` + string(rune('a'+i)) + `" href="` + href + `" media-type="` + hrefs[href] + `"/>` + "\n")
	}
	buf.WriteString("</manifest>\n</package>\n")
	return buf.String()
}

// Container renders META-INF/container.xml pointing at opfPath.
func Container(opfPath string) string {
	return `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="` + opfPath + `" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`
}

// WriteEPUB zips files into path with mimetype stored first.
func WriteEPUB(t testing.TB, path string, files map[string][]byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	if data, ok := files["mimetype"]; ok {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
		if err != nil {
			t.Fatalf("mimetype: %v", err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("mimetype: %v", err)
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		if name != "mimetype" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("zip %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

// ReadEPUB returns the entries of the archive at path keyed by name, plus the
// entry order and compression methods.
func ReadEPUB(t testing.TB, path string) (map[string][]byte, []*zip.File) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open epub: %v", err)
	}
	defer zr.Close()

	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		_ = rc.Close()
		out[f.Name] = buf.Bytes()
	}
	return out, zr.File
}
