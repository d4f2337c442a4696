package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/screening-cli/internal/checkpoint"
	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/parse"
	"github.com/sells-group/screening-cli/internal/pipeline"
	anthropicpkg "github.com/sells-group/screening-cli/pkg/anthropic"
	"github.com/sells-group/screening-cli/pkg/crossref"
)

var (
	screenOverrideInclude bool
	screenOverrideReason  string
	screenFallbackTitle   string
)

var screenCmd = &cobra.Command{
	Use:   "screen <paper.pdf>",
	Short: "Screen a paper through the full pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var opts []pipeline.Option
		if screenOverrideReason != "" {
			opts = append(opts, pipeline.WithOverride(model.Override{
				Include:       screenOverrideInclude,
				Justification: screenOverrideReason,
			}))
		}
		if screenFallbackTitle != "" {
			opts = append(opts, pipeline.WithIdentifierFallback(model.StudyIdentifier{
				Fields: map[model.IdentifierField]model.ResolvedField{
					model.FieldTitle: {Value: screenFallbackTitle, Confidence: 0.5, Resolved: true},
				},
			}))
		}

		orch, err := buildOrchestrator(st, opts...)
		if err != nil {
			return err
		}

		runID, err := orch.Start(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "screen")
		}

		out, err := orch.Output(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "assemble output")
		}

		zap.L().Info("screening complete",
			zap.String("run_id", runID),
			zap.Bool("include", out.FinalAssessment.Include),
			zap.String("priority", string(out.FinalAssessment.Priority)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	screenCmd.Flags().BoolVar(&screenOverrideInclude, "override-include", false, "override determination (requires --override-reason)")
	screenCmd.Flags().StringVar(&screenOverrideReason, "override-reason", "", "written justification for the override")
	screenCmd.Flags().StringVar(&screenFallbackTitle, "fallback-title", "", "title to fall back on when identification fails")
	rootCmd.AddCommand(screenCmd)
}

// initStore opens the configured checkpoint store and runs migrations.
func initStore(ctx context.Context) (checkpoint.Store, error) {
	st, err := checkpoint.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// buildOrchestrator wires the pipeline from the loaded config.
func buildOrchestrator(st checkpoint.Store, opts ...pipeline.Option) (*pipeline.Orchestrator, error) {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	limiter := rate.NewLimiter(rate.Limit(cfg.Anthropic.RequestsPerSec), 1)
	capability := extract.NewAnthropic(client, limiter, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	parser := parse.NewPdfToText(cfg.Parse.PdfToTextPath, cfg.Parse.PdfInfoPath)
	lookup := crossref.NewClient(cfg.Crossref.Mailto)

	return pipeline.New(cfg, st, parser, capability, lookup, opts...)
}
