package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/speedrun-cli/internal/export"
	"github.com/sells-group/speedrun-cli/internal/model"
	"github.com/sells-group/speedrun-cli/internal/queue"
)

var queueFlags struct {
	workspace string
	offset    int
	limit     int
	format    string
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the published speedrun queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := queueFlags
		if f.workspace == "" {
			return eris.New("--workspace is required")
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
		page, err := svc.Page(ctx, f.workspace, f.offset, f.limit)
		if err != nil {
			return err
		}
		return writePage(cmd.OutOrStdout(), page, f.format)
	},
}

var queueExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Score the current snapshot and show why each entity is in or out",
	RunE: func(cmd *cobra.Command, args []string) error {
		if queueFlags.workspace == "" {
			return eris.New("--workspace is required")
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
		scores, err := svc.Explain(ctx, queueFlags.workspace)
		if err != nil {
			return err
		}
		formatExplain(cmd.OutOrStdout(), scores)
		return nil
	},
}

func init() {
	pf := queueCmd.PersistentFlags()
	pf.StringVar(&queueFlags.workspace, "workspace", "", "workspace ID")
	queueCmd.Flags().IntVar(&queueFlags.offset, "offset", 0, "first entry to show")
	queueCmd.Flags().IntVar(&queueFlags.limit, "limit", 0, "entries to show (default queue.size, max queue.max_page_size)")
	queueCmd.Flags().StringVar(&queueFlags.format, "format", "table", "output format: table, json or csv")
	queueCmd.AddCommand(queueExplainCmd)
	rootCmd.AddCommand(queueCmd)
}

func writePage(w io.Writer, page *queue.Page, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	case "csv":
		q := &model.RankedQueue{Entries: page.Entries}
		return export.WriteCSV(w, export.Rows(q, nil))
	case "table":
		formatPage(w, page)
		return nil
	default:
		return eris.Errorf("unknown format %q (want table, json or csv)", format)
	}
}

func formatPage(w io.Writer, page *queue.Page) {
	if page.Total == 0 {
		fmt.Fprintf(w, "No queue published for %s.\n", page.WorkspaceID)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RANK\tKIND\tENTITY\tCOMPANY\tSCORE")
	_, _ = fmt.Fprintln(tw, "----\t----\t------\t-------\t-----")
	for _, e := range page.Entries {
		company := e.CompanyID
		if company == "" {
			company = "-"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\n", e.GlobalRank, e.Kind, e.EntityID, company, e.Score)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nshowing %d of %d (generation %d, built %s)\n",
		len(page.Entries), page.Total, page.Generation, page.BuiltAt.Format("2006-01-02 15:04:05"))
}

func formatExplain(w io.Writer, scores []model.EntityScore) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tENTITY\tCOMPANY\tSCORE\tCOMPANY_SCORE\tINDIVIDUAL\tSTATE\tREASON")
	_, _ = fmt.Fprintln(tw, "----\t------\t-------\t-----\t-------------\t----------\t-----\t------")
	for _, s := range scores {
		reason := s.Reason
		if reason == "" {
			reason = "-"
		}
		company := s.CompanyID
		if company == "" {
			company = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
			s.Kind, s.EntityID, company, s.Score, s.CompanyScore, s.IndividualScore, s.State, reason)
	}
	_ = tw.Flush()
}
