package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusOutput bool

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the current state of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		orch, err := buildOrchestrator(st)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if statusOutput {
			out, outErr := orch.Output(ctx, args[0])
			if outErr != nil {
				return eris.Wrap(outErr, "status")
			}
			return enc.Encode(out)
		}

		run, err := orch.Status(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "status")
		}
		return enc.Encode(run)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusOutput, "output", false, "print the assembled output document instead of the run record")
	rootCmd.AddCommand(statusCmd)
}
