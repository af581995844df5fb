package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/speedrun-cli/internal/strategy"
	"github.com/sells-group/speedrun-cli/pkg/anthropic"
)

var strategyFlags struct {
	companyID string
	jsonOut   bool
}

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Generate an account strategy from a company's buyer group",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strategyFlags.companyID == "" {
			return eris.New("--company-id is required")
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx, "strategy")
		if err != nil {
			return err
		}
		defer env.Close()

		gen := strategy.New(anthropic.NewClient(cfg.Anthropic.Key), env.Store,
			strategy.WithModel(cfg.Anthropic.Model),
			strategy.WithMaxTokens(cfg.Anthropic.MaxTokens),
		)
		report, err := gen.Generate(ctx, strategyFlags.companyID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if strategyFlags.jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		fmt.Fprintln(out, report.Text)
		return nil
	},
}

func init() {
	strategyCmd.Flags().StringVar(&strategyFlags.companyID, "company-id", "", "company to write a strategy for")
	strategyCmd.Flags().BoolVar(&strategyFlags.jsonOut, "json", false, "print the report as JSON")
	rootCmd.AddCommand(strategyCmd)
}
