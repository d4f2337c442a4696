package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/parse"
	"github.com/sells-group/screening-cli/internal/reconcile"
	"github.com/sells-group/screening-cli/pkg/crossref"
)

// identifyHeadChars bounds how much of the paper the identification prompts
// see; bibliographic fields live on the first pages.
const identifyHeadChars = 6000

var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[-._;()/:a-zA-Z0-9]+`)

const structuredIdentifyPrompt = `Extract the bibliographic metadata of this scientific paper from its opening text.

%s

Respond with a valid JSON object, using "" for anything not present:
{"title": "...", "authors": "...", "year": "...", "doi": "...", "journal": "..."}`

const freeformIdentifyPrompt = `Read the opening text of this scientific paper and work out what publication it is: look at the running headers, the citation line, the copyright notice, anywhere the paper identifies itself.

%s

Respond with a valid JSON object, using "" for anything you cannot determine:
{"title": "...", "authors": "...", "year": "...", "doi": "...", "journal": "..."}`

// identifyFields is the wire shape both extraction sources return.
type identifyFields struct {
	Title   string `json:"title"`
	Authors string `json:"authors"`
	Year    string `json:"year"`
	DOI     string `json:"doi"`
	Journal string `json:"journal"`
}

// MetadataLookup is the external bibliographic lookup collaborator.
type MetadataLookup interface {
	LookupDOI(ctx context.Context, doi string) (*crossref.Work, error)
	SearchTitle(ctx context.Context, title string) (*crossref.Work, error)
}

// identify fans out to the four identification sources concurrently, waits for
// all of them (bounded by the per-source timeout), and reconciles whatever
// came back. A slow or failed source contributes nothing; it never blocks the
// others.
func (o *Orchestrator) identify(ctx context.Context, doc *parse.Document) (*model.StudyIdentifier, model.TokenUsage, bool) {
	head := doc.Text()
	if len(head) > identifyHeadChars {
		head = head[:identifyHeadChars]
	}

	timeout := time.Duration(o.cfg.Pipeline.SourceTimeoutSecs) * time.Second
	results := make([][]reconcile.FieldCandidate, 4)
	var usageMu sync.Mutex
	var usage model.TokenUsage
	degraded := false

	g, gCtx := errgroup.WithContext(ctx)

	source := func(idx int, name string, fn func(ctx context.Context) ([]reconcile.FieldCandidate, model.TokenUsage, error)) {
		g.Go(func() error {
			srcCtx, cancel := context.WithTimeout(gCtx, timeout)
			defer cancel()

			cands, u, err := fn(srcCtx)
			usageMu.Lock()
			usage.Add(u)
			usageMu.Unlock()
			if err != nil {
				zap.L().Warn("identification source failed",
					zap.String("source", name),
					zap.Error(err),
				)
				return nil
			}
			results[idx] = cands
			return nil
		})
	}

	source(0, "pdf_metadata", func(context.Context) ([]reconcile.FieldCandidate, model.TokenUsage, error) {
		return metadataCandidates(doc.Metadata), model.TokenUsage{}, nil
	})
	source(1, "structured", func(ctx context.Context) ([]reconcile.FieldCandidate, model.TokenUsage, error) {
		return o.extractIdentity(ctx, model.SourceStructured, structuredIdentifyPrompt, head)
	})
	source(2, "freeform", func(ctx context.Context) ([]reconcile.FieldCandidate, model.TokenUsage, error) {
		return o.extractIdentity(ctx, model.SourceFreeform, freeformIdentifyPrompt, head)
	})
	source(3, "lookup", func(ctx context.Context) ([]reconcile.FieldCandidate, model.TokenUsage, error) {
		return o.lookupCandidates(ctx, doc, head)
	})

	_ = g.Wait()

	var all []reconcile.FieldCandidate
	for _, r := range results {
		all = append(all, r...)
	}

	si := reconcile.Reconcile(all)

	if !anyResolved(si) {
		degraded = true
		if o.fallback != nil {
			si = reconcile.ApplyFallback(si, *o.fallback)
			zap.L().Warn("identification fell back to the injected identifier")
		} else {
			zap.L().Warn("identification produced no resolved fields")
		}
	}
	return &si, usage, degraded
}

// metadataCandidates maps embedded PDF metadata onto field candidates.
func metadataCandidates(md parse.Metadata) []reconcile.FieldCandidate {
	var out []reconcile.FieldCandidate
	add := func(field model.IdentifierField, value string) {
		if strings.TrimSpace(value) != "" {
			out = append(out, reconcile.FieldCandidate{Field: field, Source: model.SourcePDFMetadata, Value: value})
		}
	}
	add(model.FieldTitle, md.Title)
	add(model.FieldAuthors, md.Author)
	return out
}

// extractIdentity runs one capability-backed identification source.
func (o *Orchestrator) extractIdentity(ctx context.Context, src model.SourceKind, prompt, head string) ([]reconcile.FieldCandidate, model.TokenUsage, error) {
	res, err := o.capability.Extract(ctx, extract.Request{
		Stage:  "identify",
		Prompt: fmt.Sprintf(prompt, head),
	})
	if err != nil {
		return nil, model.TokenUsage{}, err
	}

	var fields identifyFields
	if err := json.Unmarshal(res.JSON, &fields); err != nil {
		return nil, res.Usage, err
	}
	return fieldCandidates(src, fields), res.Usage, nil
}

// lookupCandidates resolves the paper through the metadata lookup service,
// preferring a DOI found in the text over a title search.
func (o *Orchestrator) lookupCandidates(ctx context.Context, doc *parse.Document, head string) ([]reconcile.FieldCandidate, model.TokenUsage, error) {
	var work *crossref.Work
	var err error

	if doi := doiPattern.FindString(head); doi != "" {
		work, err = o.lookup.LookupDOI(ctx, doi)
	} else if title := strings.TrimSpace(doc.Metadata.Title); title != "" {
		work, err = o.lookup.SearchTitle(ctx, title)
	} else {
		return nil, model.TokenUsage{}, nil
	}

	if err != nil {
		if eris.Is(err, crossref.ErrNotFound) {
			// Not found is an absent source, not a failure.
			return nil, model.TokenUsage{}, nil
		}
		return nil, model.TokenUsage{}, err
	}

	return fieldCandidates(model.SourceLookup, identifyFields{
		Title:   work.Title,
		Authors: strings.Join(work.Authors, "; "),
		Year:    work.Year,
		DOI:     work.DOI,
		Journal: work.Journal,
	}), model.TokenUsage{}, nil
}

func fieldCandidates(src model.SourceKind, f identifyFields) []reconcile.FieldCandidate {
	var out []reconcile.FieldCandidate
	add := func(field model.IdentifierField, value string) {
		if strings.TrimSpace(value) != "" {
			out = append(out, reconcile.FieldCandidate{Field: field, Source: src, Value: value})
		}
	}
	add(model.FieldTitle, f.Title)
	add(model.FieldAuthors, f.Authors)
	add(model.FieldYear, f.Year)
	add(model.FieldDOI, f.DOI)
	add(model.FieldJournal, f.Journal)
	return out
}

func anyResolved(si model.StudyIdentifier) bool {
	for _, field := range model.IdentifierFields {
		if si.Fields[field].Resolved {
			return true
		}
	}
	return false
}
