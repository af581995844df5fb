package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var rebuildWorkspace string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Score every entity in a workspace and publish a new speedrun queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rebuildWorkspace == "" {
			return eris.New("--workspace is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "rebuild")
		if err != nil {
			return err
		}
		defer env.Close()

		svc, err := newQueueService(env)
		if err != nil {
			return err
		}
		q, err := svc.Rebuild(ctx, rebuildWorkspace)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "published queue %s for %s: %d entries (%d eligible), generation %d\n",
			q.ID, q.WorkspaceID, len(q.Entries), q.Eligible, q.Generation)
		return nil
	},
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildWorkspace, "workspace", "", "workspace to rebuild")
	rootCmd.AddCommand(rebuildCmd)
}
