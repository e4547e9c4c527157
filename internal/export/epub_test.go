package export

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func buildTestEPUB(t *testing.T) *zip.Reader {
	t.Helper()
	builder := NewEPUBBuilder(EPUBMeta{Title: "The Hobbit", Author: "J.R.R. Tolkien"}, sampleResults())

	var buf bytes.Buffer
	if err := builder.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("output is not a zip: %v", err)
	}
	return zr
}

func readZipEntry(t *testing.T, zr *zip.Reader, name string) string {
	t.Helper()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return string(data)
	}
	t.Fatalf("entry %s not found", name)
	return ""
}

func TestEPUB_MimetypeFirstAndStored(t *testing.T) {
	zr := buildTestEPUB(t)
	if len(zr.File) == 0 {
		t.Fatal("empty archive")
	}
	first := zr.File[0]
	if first.Name != "mimetype" {
		t.Errorf("first entry %q, want mimetype", first.Name)
	}
	if first.Method != zip.Store {
		t.Error("mimetype must be stored uncompressed")
	}
	if got := readZipEntry(t, zr, "mimetype"); got != "application/epub+zip" {
		t.Errorf("mimetype content %q", got)
	}
}

func TestEPUB_PackageDocument(t *testing.T) {
	zr := buildTestEPUB(t)

	container := readZipEntry(t, zr, "META-INF/container.xml")
	if !strings.Contains(container, "OEBPS/content.opf") {
		t.Error("container does not point at the package document")
	}

	opf := readZipEntry(t, zr, "OEBPS/content.opf")
	if !strings.Contains(opf, "<dc:title>The Hobbit</dc:title>") {
		t.Error("title missing from package metadata")
	}
	if !strings.Contains(opf, "<dc:creator>J.R.R. Tolkien</dc:creator>") {
		t.Error("author missing from package metadata")
	}
	// Both pages appear in the spine; only the successful one has an image.
	if !strings.Contains(opf, `idref="page0"`) || !strings.Contains(opf, `idref="page1"`) {
		t.Error("spine missing pages")
	}
	if !strings.Contains(opf, `id="img0"`) {
		t.Error("successful page's image missing from manifest")
	}
	if strings.Contains(opf, `id="img1"`) {
		t.Error("failed page should have no image in manifest")
	}
}

func TestEPUB_PageDocuments(t *testing.T) {
	zr := buildTestEPUB(t)

	success := readZipEntry(t, zr, "OEBPS/pages/page_0000.xhtml")
	if !strings.Contains(success, "<img src=") {
		t.Error("successful page has no illustration")
	}
	if !strings.Contains(success, "An unexpected party.") {
		t.Error("page text missing")
	}

	failed := readZipEntry(t, zr, "OEBPS/pages/page_0001.xhtml")
	if !strings.Contains(failed, "No illustration available") {
		t.Error("failed page missing its placeholder")
	}
	if strings.Contains(failed, "<img src=") {
		t.Error("failed page should not embed an image")
	}

	nav := readZipEntry(t, zr, "OEBPS/nav.xhtml")
	if !strings.Contains(nav, "page_0000.xhtml") || !strings.Contains(nav, "page_0001.xhtml") {
		t.Error("navigation missing pages")
	}
}
