package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/runtime"
	"github.com/toolgate/toolgate/internal/scheduler"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(
		jobsCreateCmd(),
		jobsListCmd(),
		jobsGetCmd(),
		jobsPauseCmd(),
		jobsResumeCmd(),
		jobsDeleteCmd(),
		jobsExecutionsCmd(),
		jobsCleanupCmd(),
	)
	return cmd
}

func jobsCreateCmd() *cobra.Command {
	var (
		name          string
		schedule      string
		timezone      string
		params        string
		maxExecutions int
		endAt         string
	)

	cmd := &cobra.Command{
		Use:   "create <server:tool>",
		Short: "Create a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			toolArgs, err := parseJSONArgs(params)
			if err != nil {
				return err
			}
			opts := scheduler.JobOptions{MaxExecutions: maxExecutions}
			if endAt != "" {
				ts, err := time.Parse(time.RFC3339, endAt)
				if err != nil {
					return fmt.Errorf("invalid --end-at: %w", err)
				}
				opts.EndAt = &ts
			}
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				job, err := app.Scheduler.CreateJob(name, args[0], toolArgs, schedule, timezone, opts)
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron expression, RFC 3339 timestamp, or shorthand like 'every day at 9am'")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for cron schedules")
	cmd.Flags().StringVar(&params, "params", "", "Tool parameters as a JSON object")
	cmd.Flags().IntVar(&maxExecutions, "max-executions", 0, "Stop after this many executions (0 = unlimited)")
	cmd.Flags().StringVar(&endAt, "end-at", "", "Stop firing after this RFC 3339 time")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("schedule")
	return cmd
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				jobs, err := app.Scheduler.ListJobs()
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("No jobs.")
					return nil
				}
				for _, job := range jobs {
					next := "-"
					if job.NextFireAt != nil {
						next = job.NextFireAt.Format(time.RFC3339)
					}
					fmt.Printf("%s  %-20s %-10s next=%s  %s\n",
						job.ID, job.Name, job.Status, next, job.ToolID)
				}
				return nil
			})
		},
	}
}

func jobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				job, err := app.Scheduler.GetJob(args[0])
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
}

func jobsPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Pause a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				return app.Scheduler.PauseJob(args[0])
			})
		},
	}
}

func jobsResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a paused or errored job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				return app.Scheduler.ResumeJob(args[0])
			})
		},
	}
}

func jobsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				return app.Scheduler.DeleteJob(args[0])
			})
		},
	}
}

func jobsExecutionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "executions <job-id>",
		Short: "Show a job's execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				execs, err := app.Scheduler.ListExecutions(args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(execs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")
	return cmd
}

func jobsCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Compact old execution records",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				removed, err := app.Scheduler.Cleanup()
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d execution records.\n", removed)
				return nil
			})
		},
	}
}
