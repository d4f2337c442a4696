// Package parse turns a PDF into page-indexed text plus embedded document
// metadata, using the poppler CLI tools.
package parse

import (
	"context"
	"fmt"
	"strings"
)

// Page is one page of extracted text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Metadata is the document's embedded metadata, the highest-precedence
// identification source.
type Metadata struct {
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Keywords string `json:"keywords,omitempty"`
}

// Document is the parsed representation handed to the pipeline.
type Document struct {
	Path     string   `json:"path"`
	Pages    []Page   `json:"pages"`
	Metadata Metadata `json:"metadata"`
}

// Text joins all pages into one string, prefixing each page with a [page N]
// marker. The extraction prompts point the model at these markers for quote
// page attribution, so they must carry the true pdftotext page numbers.
func (d *Document) Text() string {
	parts := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		parts[i] = fmt.Sprintf("[page %d]\n%s", p.Number, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Parser extracts text and metadata from a document file.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
}
