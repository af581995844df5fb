package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/export"
)

var exportFlags struct {
	workspace string
	format    string
	output    string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the published queue with entity names to CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := exportFlags
		if f.workspace == "" {
			return eris.New("--workspace is required")
		}
		if f.format != "csv" && f.format != "xlsx" {
			return eris.Errorf("unknown format %q (want csv or xlsx)", f.format)
		}
		if f.format == "xlsx" && f.output == "" {
			return eris.New("--output is required for xlsx")
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx, "rebuild")
		if err != nil {
			return err
		}
		defer env.Close()

		svc, err := newQueueService(env)
		if err != nil {
			return err
		}
		q, err := svc.Queue(ctx, f.workspace)
		if err != nil {
			return err
		}
		if q == nil {
			return eris.Errorf("no queue published for %s", f.workspace)
		}
		snap, err := env.Store.LoadSnapshot(ctx, f.workspace)
		if err != nil {
			return eris.Wrap(err, "load snapshot for names")
		}
		rows := export.Rows(q, snap)

		if f.format == "xlsx" {
			if err := export.WriteXLSX(f.output, f.workspace, rows); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			if f.output != "" {
				file, err := os.Create(f.output)
				if err != nil {
					return eris.Wrapf(err, "create %s", f.output)
				}
				defer file.Close() //nolint:errcheck
				out = file
			}
			if err := export.WriteCSV(out, rows); err != nil {
				return err
			}
		}

		zap.L().Info("queue exported",
			zap.String("workspace_id", f.workspace),
			zap.String("format", f.format),
			zap.String("output", f.output),
			zap.Int("rows", len(rows)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFlags.workspace, "workspace", "", "workspace ID")
	exportCmd.Flags().StringVar(&exportFlags.format, "format", "csv", "csv or xlsx")
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "output path (csv defaults to stdout)")
	rootCmd.AddCommand(exportCmd)
}
