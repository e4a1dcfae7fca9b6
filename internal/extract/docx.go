package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// A .docx file is a ZIP package; the document body lives in an XML part
// (usually word/document.xml) declared in [Content_Types].xml. Text is carried
// in <w:t> runs; everything else (images, drawings, table markup) is skipped,
// which is what lets documents with embedded non-text content extract cleanly.

const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

var (
	wtRun      = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	wParaEnd   = regexp.MustCompile(`</w:p>`)
	wPartName  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	wPartName2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

func extractDOCX(content []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %v", ErrCorruptFile, err)
	}
	partPath := docxMainPartPath(zr)
	body, err := readZipFile(zr, partPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorruptFile, partPath, err)
	}

	// Paragraph ends become newlines so line boundaries survive into chunking.
	xmlBody := wParaEnd.ReplaceAllString(string(body), "\n")
	var buf strings.Builder
	for _, line := range strings.Split(xmlBody, "\n") {
		for _, m := range wtRun.FindAllStringSubmatch(line, -1) {
			buf.WriteString(unescapeXML(m[1]))
		}
		buf.WriteByte('\n')
	}
	return &Result{Text: normalizeText(buf.String())}, nil
}

// docxMainPartPath reads [Content_Types].xml for the main document part,
// falling back to the conventional word/document.xml.
func docxMainPartPath(zr *zip.Reader) string {
	data, err := readZipFile(zr, "[Content_Types].xml")
	if err != nil {
		return "word/document.xml"
	}
	for _, re := range []*regexp.Regexp{wPartName, wPartName2} {
		if m := re.FindStringSubmatch(string(data)); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return "word/document.xml"
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("missing part %s", name)
}

var xmlReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
)

func unescapeXML(s string) string {
	return xmlReplacer.Replace(s)
}
