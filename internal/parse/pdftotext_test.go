package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPages(t *testing.T) {
	text := "page one text\f page two text \f\f"
	pages := splitPages(text)

	assert.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "page one text", pages[0].Text)
	assert.Equal(t, 2, pages[1].Number)
}

func TestSplitPages_PreservesPageNumbersAcrossBlanks(t *testing.T) {
	// An empty page is skipped but later pages keep their true number.
	pages := splitPages("first\f\fthird")
	assert.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, 3, pages[1].Number)
}

func TestParsePdfInfo(t *testing.T) {
	output := `Title:          Neural Correlates of Memory Consolidation
Author:         Smith, J.; Lee, K.
Subject:        neuroscience
Keywords:       memory, hippocampus
Producer:       pdfTeX-1.40
Pages:          12
Page size:      612 x 792 pts (letter)`

	md := parsePdfInfo(output)
	assert.Equal(t, "Neural Correlates of Memory Consolidation", md.Title)
	assert.Equal(t, "Smith, J.; Lee, K.", md.Author)
	assert.Equal(t, "neuroscience", md.Subject)
	assert.Equal(t, "memory, hippocampus", md.Keywords)
}

func TestParsePdfInfo_Empty(t *testing.T) {
	assert.Equal(t, Metadata{}, parsePdfInfo(""))
}

func TestDocumentText_CarriesPageMarkers(t *testing.T) {
	doc := &Document{Pages: []Page{{Number: 1, Text: "a"}, {Number: 3, Text: "b"}}}
	assert.Equal(t, "[page 1]\na\n\n[page 3]\nb", doc.Text())
}
