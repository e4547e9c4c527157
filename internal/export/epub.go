package export

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storyframe/storyframe/internal/pipeline"
	"github.com/storyframe/storyframe/internal/runstate"
)

// EPUBMeta holds the metadata stamped into a generated ePub.
type EPUBMeta struct {
	Title    string
	Author   string
	Language string // ISO 639-1 code (e.g., "en")
}

// EPUBBuilder creates an ePub 3.0 file from a run's ordered page results:
// one XHTML page per pipeline page, each with its illustration above the
// source text. Failed pages get a placeholder note instead of an image.
type EPUBBuilder struct {
	meta    EPUBMeta
	results []pipeline.PageResult
	id      string
}

// NewEPUBBuilder creates a builder over ordered page results.
func NewEPUBBuilder(meta EPUBMeta, results []pipeline.PageResult) *EPUBBuilder {
	if meta.Language == "" {
		meta.Language = "en"
	}
	if meta.Title == "" {
		meta.Title = "Illustrated Book"
	}
	return &EPUBBuilder{
		meta:    meta,
		results: results,
		id:      "urn:uuid:" + uuid.New().String(),
	}
}

// Build generates the epub and writes it to the specified path.
func (b *EPUBBuilder) Build(outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	return b.WriteTo(f)
}

// WriteTo writes the epub to a writer.
func (b *EPUBBuilder) WriteTo(w io.Writer) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	// mimetype must be the first entry and stored uncompressed.
	if err := b.writeMimetype(zw); err != nil {
		return err
	}
	if err := b.writeContainer(zw); err != nil {
		return err
	}
	if err := b.writePackage(zw); err != nil {
		return err
	}
	if err := b.writeNavigation(zw); err != nil {
		return err
	}
	if err := b.writeStylesheet(zw); err != nil {
		return err
	}
	for _, pr := range b.results {
		if err := b.writePage(zw, pr); err != nil {
			return fmt.Errorf("write page %d: %w", pr.Page.ID, err)
		}
	}
	return nil
}

func (b *EPUBBuilder) writeMimetype(zw *zip.Writer) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	})
	if err != nil {
		return fmt.Errorf("create mimetype: %w", err)
	}
	_, err = w.Write([]byte("application/epub+zip"))
	return err
}

func (b *EPUBBuilder) writeContainer(zw *zip.Writer) error {
	const content = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`
	return writeZipEntry(zw, "META-INF/container.xml", content)
}

func (b *EPUBBuilder) writePackage(zw *zip.Writer) error {
	var m strings.Builder
	m.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="book-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	fmt.Fprintf(&m, "    <dc:identifier id=\"book-id\">%s</dc:identifier>\n", b.id)
	fmt.Fprintf(&m, "    <dc:title>%s</dc:title>\n", html.EscapeString(b.meta.Title))
	if b.meta.Author != "" {
		fmt.Fprintf(&m, "    <dc:creator>%s</dc:creator>\n", html.EscapeString(b.meta.Author))
	}
	fmt.Fprintf(&m, "    <dc:language>%s</dc:language>\n", b.meta.Language)
	fmt.Fprintf(&m, "    <meta property=\"dcterms:modified\">%s</meta>\n",
		time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	m.WriteString(`  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="css" href="styles/style.css" media-type="text/css"/>
`)
	for _, pr := range b.results {
		fmt.Fprintf(&m, "    <item id=\"page%d\" href=\"pages/%s\" media-type=\"application/xhtml+xml\"/>\n",
			pr.Page.ID, pageFilename(pr.Page.ID))
		if img, ok := pageImage(pr.Result); ok {
			fmt.Fprintf(&m, "    <item id=\"img%d\" href=\"images/%s\" media-type=\"%s\"/>\n",
				pr.Page.ID, imageFilename(pr.Page.ID, img), http.DetectContentType(img))
		}
	}
	m.WriteString("  </manifest>\n  <spine>\n")
	for _, pr := range b.results {
		fmt.Fprintf(&m, "    <itemref idref=\"page%d\"/>\n", pr.Page.ID)
	}
	m.WriteString("  </spine>\n</package>\n")
	return writeZipEntry(zw, "OEBPS/content.opf", m.String())
}

func (b *EPUBBuilder) writeNavigation(zw *zip.Writer) error {
	var n strings.Builder
	n.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>Contents</title></head>
<body>
  <nav epub:type="toc">
    <h1>Contents</h1>
    <ol>
`)
	for _, pr := range b.results {
		fmt.Fprintf(&n, "      <li><a href=\"pages/%s\">Page %d</a></li>\n",
			pageFilename(pr.Page.ID), pr.Page.ID+1)
	}
	n.WriteString(`    </ol>
  </nav>
</body>
</html>`)
	return writeZipEntry(zw, "OEBPS/nav.xhtml", n.String())
}

func (b *EPUBBuilder) writeStylesheet(zw *zip.Writer) error {
	return writeZipEntry(zw, "OEBPS/styles/style.css", epubStylesheet)
}

// writePage writes one page's illustration and XHTML document.
func (b *EPUBBuilder) writePage(zw *zip.Writer, pr pipeline.PageResult) error {
	img, hasImage := pageImage(pr.Result)
	if hasImage {
		w, err := zw.Create("OEBPS/images/" + imageFilename(pr.Page.ID, img))
		if err != nil {
			return fmt.Errorf("create image entry: %w", err)
		}
		if _, err := w.Write(img); err != nil {
			return err
		}
	}

	var p strings.Builder
	p.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	fmt.Fprintf(&p, "Page %d", pr.Page.ID+1)
	p.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
<body>
`)
	if hasImage {
		fmt.Fprintf(&p, "  <div class=\"illustration\"><img src=\"../images/%s\" alt=\"Illustration for page %d\"/></div>\n",
			imageFilename(pr.Page.ID, img), pr.Page.ID+1)
	} else {
		p.WriteString("  <div class=\"illustration missing\"><p>No illustration available for this page.</p></div>\n")
	}
	for _, para := range strings.Split(pr.Page.Text, "\n") {
		if para = strings.TrimSpace(para); para != "" {
			fmt.Fprintf(&p, "  <p>%s</p>\n", html.EscapeString(para))
		}
	}
	p.WriteString("</body>\n</html>")

	return writeZipEntry(zw, "OEBPS/pages/"+pageFilename(pr.Page.ID), p.String())
}

func writeZipEntry(zw *zip.Writer, name, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, err = w.Write([]byte(content))
	return err
}

func pageFilename(pageID int) string {
	return fmt.Sprintf("page_%04d.xhtml", pageID)
}

func imageFilename(pageID int, img []byte) string {
	ext := ".png"
	if strings.HasPrefix(http.DetectContentType(img), "image/jpeg") {
		ext = ".jpg"
	}
	return fmt.Sprintf("page_%04d%s", pageID, ext)
}

// pageImage returns the image to embed for a result, if any. Only
// successful pages carry one.
func pageImage(res runstate.Result) ([]byte, bool) {
	if res.Status != runstate.StatusSuccess || len(res.ImageBytes) == 0 {
		return nil, false
	}
	return res.ImageBytes, true
}

const epubStylesheet = `body {
  font-family: Georgia, "Times New Roman", serif;
  font-size: 1em;
  line-height: 1.6;
  margin: 1em;
  text-align: justify;
}

.illustration {
  text-align: center;
  margin: 1em 0 2em 0;
}

.illustration img {
  max-width: 100%;
  height: auto;
}

.illustration.missing p {
  font-style: italic;
  color: #888;
}

p {
  margin: 0.5em 0;
  text-indent: 1.5em;
}

.illustration + p {
  text-indent: 0;
}
`
