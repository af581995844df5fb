package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/targets"
)

var targetsFlags struct {
	employees int
	flagLarge bool
	file      string
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Print the role target table, or the target spec for one company size",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := targetsFlags.file
		if path == "" {
			path = cfg.Discovery.TargetsFile
		}

		var table targets.Table
		if path != "" {
			t, err := targets.LoadFile(path)
			if err != nil {
				return err
			}
			table = t
		}
		resolver, err := targets.NewResolver(table)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if cmd.Flags().Changed("employees") || targetsFlags.flagLarge {
			var employees *int
			if cmd.Flags().Changed("employees") {
				n := targetsFlags.employees
				employees = &n
			}
			formatSpecs(out, []model.RoleTargetSpec{resolver.Resolve(employees, targetsFlags.flagLarge)})
			return nil
		}

		if table == nil {
			table = targets.DefaultTable()
		}
		specs := make([]model.RoleTargetSpec, 0, len(model.Brackets))
		for _, b := range model.Brackets {
			specs = append(specs, table.Spec(b))
		}
		formatSpecs(out, specs)
		return nil
	},
}

func init() {
	targetsCmd.Flags().IntVar(&targetsFlags.employees, "employees", 0, "resolve the target spec for this employee count")
	targetsCmd.Flags().BoolVar(&targetsFlags.flagLarge, "flag-large", false, "resolve as a company flagged large (applies only without --employees)")
	targetsCmd.Flags().StringVar(&targetsFlags.file, "file", "", "target table YAML (default discovery.targets_file)")
	rootCmd.AddCommand(targetsCmd)
}

func formatSpecs(w io.Writer, specs []model.RoleTargetSpec) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "BRACKET\tTOTAL"
	for _, r := range model.Roles {
		header += "\t" + string(r)
	}
	_, _ = fmt.Fprintln(tw, header)

	for _, s := range specs {
		line := fmt.Sprintf("%s\t%d-%d", s.Bracket, s.TotalMin, s.TotalMax)
		for _, r := range model.Roles {
			t := s.Target(r)
			line += fmt.Sprintf("\t%d-%d", t.Min, t.Max)
		}
		_, _ = fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()
}
