// Package pipeline orchestrates a screening run through its fixed stage order,
// checkpointing after every stage boundary so a run can always resume from the
// last completed stage.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/screening-cli/internal/checkpoint"
	"github.com/sells-group/screening-cli/internal/config"
	"github.com/sells-group/screening-cli/internal/consolidate"
	"github.com/sells-group/screening-cli/internal/decision"
	"github.com/sells-group/screening-cli/internal/enrich"
	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/parse"
	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/internal/schema"
	"github.com/sells-group/screening-cli/internal/stage"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

const systemPreamble = `You are a careful research assistant screening scientific papers for a systematic review. You only report what the paper actually says, you quote verbatim, and you respond with valid JSON exactly in the requested shape.`

// Orchestrator drives runs through the stage state machine. One instance owns
// each run it executes; no two concurrent executions touch the same run.
type Orchestrator struct {
	cfg          *config.Config
	store        checkpoint.Store
	parser       parse.Parser
	capability   extract.Capability
	lookup       MetadataLookup
	specs        map[model.Category]stage.Spec
	runner       *stage.Runner
	consolidator *consolidate.Consolidator
	enricher     *enrich.Enricher
	engine       *decision.Engine
	fallback     *model.StudyIdentifier
	override     *model.Override
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithIdentifierFallback injects a synthetic identifier used when every
// identification source fails, letting the run continue degraded instead of
// carrying an empty identity.
func WithIdentifierFallback(si model.StudyIdentifier) Option {
	return func(o *Orchestrator) { o.fallback = &si }
}

// WithOverride supplies an inclusion override recorded into the final
// assessment.
func WithOverride(ov model.Override) Option {
	return func(o *Orchestrator) { o.override = &ov }
}

// WithConsolidatorSeed makes consolidation pass order deterministic.
func WithConsolidatorSeed(seed uint64) Option {
	return func(o *Orchestrator) {
		o.consolidator = consolidate.New(
			consolidate.NewCapabilityJudge(o.capability),
			consolidate.WithMaxPasses(o.cfg.Pipeline.ConsolidatePasses),
			consolidate.WithSeed(seed),
		)
	}
}

// New wires the orchestrator from its collaborators.
func New(cfg *config.Config, store checkpoint.Store, parser parse.Parser, capability extract.Capability, lookup MetadataLookup, opts ...Option) (*Orchestrator, error) {
	specs, err := stage.Specs()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		parser:     parser,
		capability: capability,
		lookup:     lookup,
		specs:      specs,
		runner:     stage.NewRunner(capability, resilience.DefaultRetryConfig()),
		consolidator: consolidate.New(
			consolidate.NewCapabilityJudge(capability),
			consolidate.WithMaxPasses(cfg.Pipeline.ConsolidatePasses),
		),
		enricher: enrich.New(capability, cfg.Pipeline.EnrichMaxAttempts),
		engine:   decision.New(cfg.Decision.Rules()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start creates a run for the paper and executes it from the first stage.
func (o *Orchestrator) Start(ctx context.Context, paperPath string) (string, error) {
	run, err := o.store.CreateRun(ctx, model.Paper{Path: paperPath})
	if err != nil {
		return "", eris.Wrap(err, "pipeline: create run")
	}
	zap.L().Info("run started",
		zap.String("run_id", run.ID),
		zap.String("paper", paperPath),
	)
	return run.ID, o.execute(ctx, run, -1, &model.RunState{})
}

// Resume continues a run from its latest checkpoint. Resuming a completed run
// is a no-op returning the terminal status.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (model.RunStatus, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: load run")
	}
	if run.Status == model.RunStatusCompleted || run.Status == model.RunStatusDegraded {
		zap.L().Info("run already complete", zap.String("run_id", runID), zap.String("status", string(run.Status)))
		return run.Status, nil
	}

	completed := model.StageIndex(-1)
	state := &model.RunState{}
	cp, err := o.store.LatestCheckpoint(ctx, runID)
	switch {
	case err == nil:
		completed = cp.Stage
		*state = cp.State
	case eris.Is(err, checkpoint.ErrNotFound):
		// Nothing checkpointed yet; run from the top.
	default:
		return "", eris.Wrap(err, "pipeline: load checkpoint")
	}

	zap.L().Info("run resuming",
		zap.String("run_id", runID),
		zap.String("from_stage", completed.String()),
	)
	if err := o.execute(ctx, run, completed, state); err != nil {
		// Report what the store recorded: a cancelled resume lands on paused,
		// not failed.
		if r, gerr := o.store.GetRun(context.WithoutCancel(ctx), runID); gerr == nil {
			return r.Status, err
		}
		return model.RunStatusFailed, err
	}

	run, err = o.store.GetRun(ctx, runID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: reload run")
	}
	return run.Status, nil
}

// Status reports the run record as stored.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*model.Run, error) {
	return o.store.GetRun(ctx, runID)
}

// Output assembles the final document from the run's latest checkpoint. It
// requires the run to have reached the assemble stage.
func (o *Orchestrator) Output(ctx context.Context, runID string) (*model.ScreeningOutput, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load run")
	}
	cp, err := o.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load checkpoint")
	}
	if cp.Stage < model.StageAssemble {
		return nil, eris.Errorf("pipeline: run %s has only reached stage %s", runID, cp.Stage)
	}
	return schema.Assemble(run, &cp.State)
}

// execute runs every stage after `completed`, checkpointing at each boundary.
// Cancellation is observed between stages; the last-good checkpoint is always
// preserved.
func (o *Orchestrator) execute(ctx context.Context, run *model.Run, completed model.StageIndex, state *model.RunState) error {
	o.setStatus(ctx, run.ID, model.RunStatusRunning)

	doc, err := o.parser.Parse(ctx, run.Paper.Path)
	if err != nil {
		return o.fail(ctx, run.ID, eris.Wrap(err, "pipeline: parse document"))
	}
	source := doc.Text()
	chunks := stage.Split(source, o.cfg.Chunk.Size, o.cfg.Chunk.Overlap)
	system := anthropic.BuildCachedSystemBlocks(systemPreamble)

	// Stage 0: identification.
	if completed < model.StageIdentify {
		if err := ctx.Err(); err != nil {
			return o.pause(ctx, run.ID, err)
		}
		si, usage, degraded := o.identify(ctx, doc)
		state.Identifier = si
		state.Usage.Add(usage)
		if degraded {
			state.Degraded = append(state.Degraded, "identify")
		}
		if err := o.save(ctx, run.ID, model.StageIdentify, state, nil); err != nil {
			return o.fail(ctx, run.ID, err)
		}
	}

	// Stages 1-4: category pipelines, concurrent, checkpointed at the join.
	if completed < model.StageFindings {
		if err := ctx.Err(); err != nil {
			return o.pause(ctx, run.ID, err)
		}
		if err := o.runCategories(ctx, run.ID, completed, state, system, chunks, source); err != nil {
			if ctx.Err() != nil {
				return o.pause(ctx, run.ID, ctx.Err())
			}
			return o.fail(ctx, run.ID, err)
		}
	}

	// Stage 5: holistic assessment and decision.
	if completed < model.StageAssess {
		if err := ctx.Err(); err != nil {
			return o.pause(ctx, run.ID, err)
		}
		holistic, usage, err := o.assess(ctx, state)
		state.Usage.Add(usage)
		if err != nil {
			return o.fail(ctx, run.ID, err)
		}

		assessment := o.engine.Decide(state.Items, holistic, o.override)
		if conf := reviewConfidence(state); conf < o.cfg.Pipeline.ReviewConfidence {
			assessment.NeedsReview = true
			zap.L().Warn("run flagged for human review",
				zap.String("run_id", run.ID),
				zap.Float64("confidence", conf),
			)
		}
		state.Assessment = assessment
		if err := o.save(ctx, run.ID, model.StageAssess, state, nil); err != nil {
			return o.fail(ctx, run.ID, err)
		}
	}

	// Stage 6: assembly. A schema violation here fails the run.
	if completed < model.StageAssemble {
		if err := ctx.Err(); err != nil {
			return o.pause(ctx, run.ID, err)
		}
		if _, err := schema.Assemble(run, state); err != nil {
			return o.fail(ctx, run.ID, err)
		}
		if err := o.save(ctx, run.ID, model.StageAssemble, state, nil); err != nil {
			return o.fail(ctx, run.ID, err)
		}
	}

	// Finalized outside the stage block so a run interrupted between the
	// assemble checkpoint and the status write still lands on resume.
	status := model.RunStatusCompleted
	if len(state.Degraded) > 0 {
		status = model.RunStatusDegraded
	}
	o.setStatus(ctx, run.ID, status)

	include := false
	if state.Assessment != nil {
		include = state.Assessment.Include
	}
	zap.L().Info("run complete",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Bool("include", include),
		zap.Int("input_tokens", state.Usage.InputTokens),
		zap.Int("output_tokens", state.Usage.OutputTokens),
	)
	return nil
}

// categoryResult is one category pipeline's contribution, collected at the
// fan-in.
type categoryResult struct {
	items    []model.ConsolidatedItem
	reports  []model.ValidationReport
	usage    model.TokenUsage
	degraded bool
	err      error
}

// runCategories executes the not-yet-completed category pipelines
// concurrently, then folds results into the state and checkpoints each
// category stage in canonical order. A failed category contributes an empty
// item set and marks the run degraded; it does not block the others.
func (o *Orchestrator) runCategories(ctx context.Context, runID string, completed model.StageIndex, state *model.RunState, system []anthropic.SystemBlock, chunks []stage.Chunk, source string) error {
	if state.Items == nil {
		state.Items = make(map[model.Category][]model.ConsolidatedItem, len(model.Categories))
	}

	var mu sync.Mutex
	results := make(map[model.Category]*categoryResult)

	g, gCtx := errgroup.WithContext(ctx)
	for _, cat := range model.Categories {
		if model.CategoryStage(cat) <= completed {
			continue
		}
		g.Go(func() error {
			res := o.runCategory(gCtx, cat, system, chunks, source)
			mu.Lock()
			results[cat] = res
			mu.Unlock()
			if res.err != nil && gCtx.Err() != nil {
				return gCtx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, cat := range model.Categories {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, ok := results[cat]
		if !ok {
			continue
		}
		if res.err != nil {
			zap.L().Error("category pipeline failed",
				zap.String("category", string(cat)),
				zap.Error(res.err),
			)
			state.Items[cat] = []model.ConsolidatedItem{}
			state.Degraded = append(state.Degraded, string(cat))
		} else {
			state.Items[cat] = res.items
			if res.degraded {
				state.Degraded = append(state.Degraded, string(cat))
			}
		}
		state.Usage.Add(res.usage)
		if err := o.save(ctx, runID, model.CategoryStage(cat), state, res.reports); err != nil {
			return err
		}
	}
	return nil
}

// runCategory is the extract → consolidate → enrich pipeline for one category.
func (o *Orchestrator) runCategory(ctx context.Context, cat model.Category, system []anthropic.SystemBlock, chunks []stage.Chunk, source string) *categoryResult {
	res := &categoryResult{}
	spec := o.specs[cat]
	start := time.Now()

	sr, err := o.runner.Run(ctx, spec, system, chunks)
	if err == nil && ctx.Err() != nil {
		// A chunk that failed on cancellation reads as degraded to the runner;
		// the run must pause instead.
		err = ctx.Err()
	}
	if err != nil {
		res.err = err
		return res
	}
	res.usage.Add(sr.Usage)
	res.reports = append(res.reports, sr.Reports...)
	res.degraded = sr.Degraded

	cons, err := o.consolidator.Consolidate(ctx, cat, sr.Items)
	if err != nil {
		res.err = err
		return res
	}
	res.usage.Add(cons.Usage)
	if !cons.Converged {
		res.reports = append(res.reports, model.ValidationReport{
			Stage:    spec.Name,
			Kind:     model.ValidationLogic,
			Passed:   true,
			Warnings: []string{"consolidation did not converge within the pass budget"},
		})
	}

	for _, item := range cons.Items {
		er, err := o.enricher.Enrich(ctx, item, source)
		if err != nil {
			res.err = err
			return res
		}
		res.usage.Add(er.Usage)
		res.reports = append(res.reports, er.Report)
		if er.Item.Degraded {
			res.degraded = true
		}
		res.items = append(res.items, er.Item)
	}

	zap.L().Info("category pipeline complete",
		zap.String("category", string(cat)),
		zap.Int("candidates", len(sr.Items)),
		zap.Int("items", len(res.items)),
		zap.Bool("degraded", res.degraded),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res
}

// save checkpoints the state after a stage completes.
func (o *Orchestrator) save(ctx context.Context, runID string, idx model.StageIndex, state *model.RunState, reports []model.ValidationReport) error {
	cp := &model.Checkpoint{
		RunID:   runID,
		Stage:   idx,
		Version: model.CheckpointVersion,
		State:   *state,
		Reports: reports,
	}
	if err := o.store.SaveCheckpoint(ctx, cp); err != nil {
		return eris.Wrapf(err, "pipeline: checkpoint stage %s", idx)
	}
	zap.L().Debug("checkpoint saved",
		zap.String("run_id", runID),
		zap.String("stage", idx.String()),
	)
	return nil
}

// fail records the failure reason and marks the run failed.
func (o *Orchestrator) fail(ctx context.Context, runID string, err error) error {
	// A fresh context so the failure is recorded even when err came from
	// cancellation of the run context.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if uerr := o.store.UpdateRunError(saveCtx, runID, err.Error()); uerr != nil {
		zap.L().Warn("failed to record run error", zap.String("run_id", runID), zap.Error(uerr))
	}
	if uerr := o.store.UpdateRunStatus(saveCtx, runID, model.RunStatusFailed); uerr != nil {
		zap.L().Warn("failed to update run status", zap.String("run_id", runID), zap.Error(uerr))
	}
	zap.L().Error("run failed", zap.String("run_id", runID), zap.Error(err))
	return err
}

// pause marks the run paused after a cancellation; its checkpoints stay intact
// for a later resume.
func (o *Orchestrator) pause(ctx context.Context, runID string, err error) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if uerr := o.store.UpdateRunStatus(saveCtx, runID, model.RunStatusPaused); uerr != nil {
		zap.L().Warn("failed to mark run paused", zap.String("run_id", runID), zap.Error(uerr))
	}
	zap.L().Info("run paused", zap.String("run_id", runID))
	return err
}

func (o *Orchestrator) setStatus(ctx context.Context, runID string, status model.RunStatus) {
	if err := o.store.UpdateRunStatus(ctx, runID, status); err != nil {
		zap.L().Warn("failed to update run status",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
