package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/checkpoint"
	"github.com/sells-group/screening-cli/internal/config"
	"github.com/sells-group/screening-cli/internal/decision"
	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/parse"
	"github.com/sells-group/screening-cli/pkg/crossref"
)

// paperText is the source document the stub parser returns. The stub
// capability quotes its sentences verbatim so enrichment accepts them.
const paperText = `Heavy Metals and the Hippocampus. doi:10.1000/x1. No prior work has examined chronic cadmium exposure in adolescents. Blood lead concentration was the primary exposure variable. Volumetric MRI segmentation quantified hippocampal volume. Hippocampal volume decreased by twelve percent in the exposed group.`

const identifyJSON = `{"title": "Heavy Metals and the Hippocampus", "authors": "Smith, J.", "year": "2020", "doi": "10.1000/x1", "journal": "NeuroTox"}`

// categoryJSON maps each extraction stage to a response quoting the paper.
var categoryJSON = map[string]string{
	"gaps":       `{"items": [{"statement": "No prior work has examined chronic cadmium exposure in adolescents", "quotes": [{"text": "No prior work has examined chronic cadmium exposure in adolescents.", "page": 1, "type": "contextual"}]}]}`,
	"variables":  `{"items": [{"statement": "blood lead concentration was the exposure variable", "quotes": [{"text": "Blood lead concentration was the primary exposure variable.", "page": 1, "type": "methodological"}]}]}`,
	"techniques": `{"items": [{"statement": "volumetric MRI segmentation measured hippocampal volume", "quotes": [{"text": "Volumetric MRI segmentation quantified hippocampal volume.", "page": 2, "type": "technical"}]}]}`,
	"findings":   `{"items": [{"statement": "hippocampal volume decreased in the exposed group", "quotes": [{"text": "Hippocampal volume decreased by twelve percent in the exposed group.", "page": 2, "type": "technical"}]}]}`,
}

type stubCapability struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(req extract.Request) (*extract.Result, error)
}

func newStubCapability(fn func(req extract.Request) (*extract.Result, error)) *stubCapability {
	return &stubCapability{calls: make(map[string]int), fn: fn}
}

func (s *stubCapability) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls[req.Stage]++
	s.mu.Unlock()
	return s.fn(req)
}

func (s *stubCapability) callCount(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func (s *stubCapability) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// happyExtract answers every stage with a well-formed response.
func happyExtract(req extract.Request) (*extract.Result, error) {
	usage := model.TokenUsage{InputTokens: 100, OutputTokens: 40}
	switch req.Stage {
	case "identify":
		return &extract.Result{JSON: []byte(identifyJSON), Usage: usage}, nil
	case "consolidate":
		return &extract.Result{JSON: []byte(`{"equivalent": false}`), Usage: usage}, nil
	case "assess":
		return &extract.Result{JSON: []byte(`{"holistic": "primary"}`), Usage: usage}, nil
	}
	if payload, ok := categoryJSON[req.Stage]; ok {
		return &extract.Result{JSON: []byte(payload), Usage: usage}, nil
	}
	return &extract.Result{JSON: []byte(`{}`), Usage: usage}, nil
}

type stubParser struct {
	doc *parse.Document
	err error
}

func (p *stubParser) Parse(ctx context.Context, path string) (*parse.Document, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.doc, nil
}

func testDocument() *parse.Document {
	return &parse.Document{
		Path: "paper.pdf",
		Pages: []parse.Page{
			{Number: 1, Text: paperText},
		},
		Metadata: parse.Metadata{
			Title:  "Heavy Metals and the Hippocampus",
			Author: "Smith, J.",
		},
	}
}

type stubLookup struct {
	work *crossref.Work
	err  error
}

func (l *stubLookup) LookupDOI(ctx context.Context, doi string) (*crossref.Work, error) {
	return l.work, l.err
}

func (l *stubLookup) SearchTitle(ctx context.Context, title string) (*crossref.Work, error) {
	return l.work, l.err
}

func testWork() *crossref.Work {
	return &crossref.Work{
		DOI:     "10.1000/x1",
		Title:   "Heavy Metals and the Hippocampus",
		Authors: []string{"Smith, J."},
		Year:    "2020",
		Journal: "NeuroTox",
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Key: "test", RequestsPerSec: 100},
		Chunk:     config.ChunkConfig{Size: 12000, Overlap: 800},
		Pipeline: config.PipelineConfig{
			SourceTimeoutSecs: 5,
			ReviewConfidence:  0.75,
			EnrichMaxAttempts: 2,
			ConsolidatePasses: 2,
		},
		Decision: config.DecisionConfig{
			TargetGap: "no prior work has examined chronic cadmium exposure in adolescents",
			Anchors:   []string{"cadmium", "hippocampal"},
			Elements: []decision.Element{
				{Name: "exposure", Terms: []string{"lead", "cadmium"}},
				{Name: "outcome", Terms: []string{"volume"}},
				{Name: "measurement", Terms: []string{"mri"}},
				{Name: "population", Terms: []string{"adolescents"}},
				{Name: "design", Terms: []string{"longitudinal"}},
			},
			MinElements: 2,
		},
	}
}

func testStore(t *testing.T) checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewFile(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testOrchestrator(t *testing.T, capability extract.Capability, opts ...Option) (*Orchestrator, checkpoint.Store) {
	t.Helper()
	store := testStore(t)
	opts = append(opts, WithConsolidatorSeed(42))
	o, err := New(testConfig(), store, &stubParser{doc: testDocument()}, capability, &stubLookup{work: testWork()}, opts...)
	require.NoError(t, err)
	return o, store
}
