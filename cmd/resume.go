package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/model"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run from its latest checkpoint",
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

		orch, err := buildOrchestrator(st)
		if err != nil {
			return err
		}

		status, err := orch.Resume(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "resume")
		}
		zap.L().Info("resume finished",
			zap.String("run_id", args[0]),
			zap.String("status", string(status)),
		)

		if status == model.RunStatusCompleted || status == model.RunStatusDegraded {
			out, outErr := orch.Output(ctx, args[0])
			if outErr != nil {
				return eris.Wrap(outErr, "assemble output")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		_, err = os.Stdout.WriteString(string(status) + "\n")
		return err
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
