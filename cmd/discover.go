package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/speedrun-cli/internal/discovery"
	"github.com/sells-group/speedrun-cli/internal/export"
	"github.com/sells-group/speedrun-cli/internal/model"
)

var discoverFlags struct {
	companyID   string
	workspaceID string
	employees   int
	flagLarge   bool
	profiles    string
	companies   string
	concurrency int
	retryFailed bool
	retryLimit  int
	jsonOut     bool
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover and persist buyer groups",
	Long: "Fetches employee profiles for one company (--company-id), a file of companies (--companies, CSV or XLSX), " +
		"or the due entries of the failure ledger (--retry-failed), and replaces each company's buyer group.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := discoverFlags
		modes := 0
		for _, set := range []bool{f.companyID != "", f.companies != "", f.retryFailed} {
			if set {
				modes++
			}
		}
		if modes != 1 {
			return eris.New("exactly one of --company-id, --companies or --retry-failed is required")
		}

		mode := "discover"
		if f.profiles != "" {
			mode = "store"
		}
		env, err := initEnv(ctx, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		if f.concurrency > 0 {
			cfg.Discovery.Concurrency = f.concurrency
		}
		svc, err := newDiscoveryService(env, newProvider(f.profiles))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch {
		case f.companyID != "":
			req := discovery.Request{
				CompanyID:    f.companyID,
				WorkspaceID:  f.workspaceID,
				FlaggedLarge: f.flagLarge,
			}
			if cmd.Flags().Changed("employees") {
				n := f.employees
				req.Employees = &n
			}
			group, skipped, err := svc.Run(ctx, req)
			if err != nil {
				return err
			}
			if f.jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(group)
			}
			formatBuyerGroup(out, group)
			if len(skipped) > 0 {
				fmt.Fprintf(out, "\n%d profile(s) skipped\n", len(skipped))
			}
			return nil

		case f.companies != "":
			reqs, err := readCompanies(f.companies)
			if err != nil {
				return err
			}
			if f.workspaceID != "" {
				for i := range reqs {
					if reqs[i].WorkspaceID == "" {
						reqs[i].WorkspaceID = f.workspaceID
					}
				}
			}
			zap.L().Info("discovering buyer groups",
				zap.Int("companies", len(reqs)),
				zap.Int("concurrency", cfg.Discovery.Concurrency),
			)
			outcomes, err := svc.RunBatch(ctx, reqs)
			formatOutcomes(out, outcomes)
			return err

		default:
			outcomes, err := svc.RetryFailed(ctx, f.retryLimit)
			if len(outcomes) == 0 && err == nil {
				fmt.Fprintln(os.Stderr, "No failures due for retry.")
				return nil
			}
			formatOutcomes(out, outcomes)
			return err
		}
	},
}

func init() {
	fl := discoverCmd.Flags()
	fl.StringVar(&discoverFlags.companyID, "company-id", "", "company to discover")
	fl.StringVar(&discoverFlags.workspaceID, "workspace", "", "workspace ID (default from the stored company)")
	fl.IntVar(&discoverFlags.employees, "employees", 0, "employee count override")
	fl.BoolVar(&discoverFlags.flagLarge, "flag-large", false, "treat the company as enterprise when its size is unknown")
	fl.StringVar(&discoverFlags.profiles, "profiles", "", "read raw profiles from a JSONL file instead of the enrichment API")
	fl.StringVar(&discoverFlags.companies, "companies", "", "CSV or XLSX file with a company_id column")
	fl.IntVar(&discoverFlags.concurrency, "concurrency", 0, "max companies in flight (default from config)")
	fl.BoolVar(&discoverFlags.retryFailed, "retry-failed", false, "reprocess transient failures that are due")
	fl.IntVar(&discoverFlags.retryLimit, "limit", 100, "max ledger entries to retry")
	fl.BoolVar(&discoverFlags.jsonOut, "json", false, "print the buyer group as JSON")
	rootCmd.AddCommand(discoverCmd)
}

// readCompanies loads discovery requests from a CSV or XLSX file, chosen by
// extension.
func readCompanies(path string) ([]discovery.Request, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rows, err := export.ReadXLSX(path)
		if err != nil {
			return nil, err
		}
		return discovery.RequestsFromRows(rows)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open companies file %s", path)
	}
	defer f.Close() //nolint:errcheck
	return discovery.ReadRequests(f)
}

func formatBuyerGroup(w io.Writer, g *model.BuyerGroup) {
	fmt.Fprintf(w, "Buyer group %s for %s (%s bracket, %d members, %.0f%% complete)\n\n",
		g.ID, g.CompanyID, g.TargetSpec.Bracket, g.Size(), g.Completeness()*100)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROLE\tNAME\tTITLE\tSENIORITY\tCONFIDENCE\tREASONING")
	_, _ = fmt.Fprintln(tw, "----\t----\t-----\t---------\t----------\t---------")
	for _, role := range model.Roles {
		for _, m := range g.Members[role] {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
				role, m.FullName, m.Title, m.Seniority, m.Confidence, m.Reasoning)
		}
	}
	_ = tw.Flush()

	for _, s := range g.Underfilled {
		fmt.Fprintf(w, "underfilled: %s has %d of minimum %d\n", s.Role, s.Filled, s.Min)
	}
	if u := g.Undersized; u != nil {
		fmt.Fprintf(w, "undersized: group has %d of minimum %d\n", u.Filled, u.Min)
	}
}

func formatOutcomes(w io.Writer, outcomes []discovery.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "COMPANY\tSTATUS\tMEMBERS\tUNDERFILLED\tSKIPPED\tERROR")
	_, _ = fmt.Fprintln(tw, "-------\t------\t-------\t-----------\t-------\t-----")

	var ok, failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			_, _ = fmt.Fprintf(tw, "%s\tfailed\t-\t-\t-\t%s\n", o.CompanyID, truncate(o.Err.Error(), 80))
			continue
		}
		ok++
		_, _ = fmt.Fprintf(tw, "%s\tok\t%d\t%d\t%d\t\n",
			o.CompanyID, o.Group.Size(), len(o.Group.Underfilled), len(o.Skipped))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d succeeded, %d failed\n", ok, failed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
