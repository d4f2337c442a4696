package parse

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText implements Parser using the pdftotext and pdfinfo CLI tools.
type PdfToText struct {
	textBin string
	infoBin string
}

var _ Parser = (*PdfToText)(nil)

// NewPdfToText creates the parser. Empty paths fall back to the tool names on
// $PATH.
func NewPdfToText(textBin, infoBin string) *PdfToText {
	if textBin == "" {
		textBin = "pdftotext"
	}
	if infoBin == "" {
		infoBin = "pdfinfo"
	}
	return &PdfToText{textBin: textBin, infoBin: infoBin}
}

// Parse runs pdftotext -layout for the page text and pdfinfo for embedded
// metadata. A pdfinfo failure degrades to empty metadata rather than failing
// the parse; text extraction failure is fatal.
func (p *PdfToText) Parse(ctx context.Context, path string) (*Document, error) {
	cmd := exec.CommandContext(ctx, p.textBin, "-layout", path, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "parse: pdftotext failed for %s: %s", path, stderr.String())
	}

	doc := &Document{
		Path:  path,
		Pages: splitPages(stdout.String()),
	}

	info := exec.CommandContext(ctx, p.infoBin, path)
	var infoOut bytes.Buffer
	info.Stdout = &infoOut
	if err := info.Run(); err == nil {
		doc.Metadata = parsePdfInfo(infoOut.String())
	}

	return doc, nil
}

// splitPages breaks pdftotext output on form feeds into numbered pages.
func splitPages(text string) []Page {
	raw := strings.Split(text, "\f")
	var pages []Page
	for i, t := range raw {
		t = strings.TrimRight(t, "\n ")
		if strings.TrimSpace(t) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: t})
	}
	return pages
}

// parsePdfInfo reads the "Key: value" lines of pdfinfo output.
func parsePdfInfo(output string) Metadata {
	var md Metadata
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Title":
			md.Title = value
		case "Author":
			md.Author = value
		case "Subject":
			md.Subject = value
		case "Keywords":
			md.Keywords = value
		}
	}
	return md
}
