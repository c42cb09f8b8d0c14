package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/fern/internal/config"
	"github.com/nextlevelbuilder/fern/internal/store"
)

func openJobStore() (*store.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.StoragePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Init(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return st, nil
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage scheduled jobs",
	}
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsCancelCmd())
	return cmd
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openJobStore()
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ListJobs(context.Background())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("(no jobs)")
				return nil
			}
			for _, j := range jobs {
				cron := j.CronExpr
				if cron == "" {
					cron = "-"
				}
				fmt.Printf("%s  %-9s  %-9s  %s  cron=%s  %s\n",
					j.ID, j.Type, j.Status, j.ScheduledAt.Format(time.RFC3339), cron, j.Prompt)
			}
			return nil
		},
	}
}

func jobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openJobStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.CancelJob(context.Background(), args[0], time.Now()); err != nil {
				return err
			}
			fmt.Println("cancelled", args[0])
			return nil
		},
	}
}
