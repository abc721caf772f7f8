package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hirewire/hirewire/queue"
)

// JobsCmd groups job record operations.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage job records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts by status and type",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		stats, err := manager.Stats(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Total: %d\n\n", stats.Total)
		fmt.Println("By status:")
		for _, status := range []queue.Status{
			queue.StatusPending, queue.StatusProcessing, queue.StatusCompleted,
			queue.StatusFailed, queue.StatusCancelled,
		} {
			if count := stats.ByStatus[status]; count > 0 {
				fmt.Printf("  %-11s %d\n", status, count)
			}
		}
		if len(stats.ByType) > 0 {
			fmt.Println("By type:")
			for jobType, count := range stats.ByType {
				fmt.Printf("  %-20s %d\n", jobType, count)
			}
		}
		return nil
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pending job records in claim order",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		jobs, err := manager.ListPending(context.Background(), limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No pending jobs")
			return nil
		}

		fmt.Printf("%-36s  %-20s  %-8s  %-9s  %s\n", "ID", "TYPE", "PRIORITY", "ATTEMPTS", "SCHEDULED")
		for _, job := range jobs {
			fmt.Printf("%-36s  %-20s  %-8d  %d/%-7d  %s\n",
				job.ID, job.Type, job.Priority, job.Attempts, job.MaxAttempts,
				job.ScheduledFor.Local().Format(time.RFC3339))
		}
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		job, err := manager.GetJob(context.Background(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var jobsScheduleCmd = &cobra.Command{
	Use:   "schedule <type>",
	Short: "Enqueue a job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, _ := cmd.Flags().GetString("payload")
		priority, _ := cmd.Flags().GetString("priority")
		delay, _ := cmd.Flags().GetDuration("delay")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		source, _ := cmd.Flags().GetString("source")

		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		opts := queue.ScheduleOptions{
			Priority:    queue.Priority(priority),
			Delay:       delay,
			MaxAttempts: maxAttempts,
			Source:      source,
		}
		var raw json.RawMessage
		if payload != "" {
			raw = json.RawMessage(payload)
		}
		id, err := manager.Schedule(context.Background(), args[0], raw, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Scheduled %s\n", id)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a non-terminal job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		cancelled, err := manager.Cancel(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !cancelled {
			fmt.Println("Job already terminal, nothing to cancel")
			return nil
		}
		fmt.Println("Cancelled")
		return nil
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Reset a failed job record for a fresh round of attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		retried, err := manager.Retry(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !retried {
			fmt.Println("Job is not failed, nothing to retry")
			return nil
		}
		fmt.Println("Requeued")
		return nil
	},
}

var jobsPriorityCmd = &cobra.Command{
	Use:   "priority <job-id> <level>",
	Short: "Change the priority of a pending job record",
	Long:  `Change the priority of a pending job record. Levels: low, medium, high, urgent.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := queue.ParsePriority(args[1])
		if err != nil {
			return err
		}

		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		updated, err := manager.UpdatePriority(context.Background(), args[0], level)
		if err != nil {
			return err
		}
		if !updated {
			fmt.Println("Job is not pending, priority unchanged")
			return nil
		}
		fmt.Printf("Priority set to %s\n", level)
		return nil
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal job records older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		deleted, err := manager.CleanupOlderThan(context.Background(), days)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d record(s)\n", deleted)
		return nil
	},
}

func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func init() {
	JobsCmd.PersistentFlags().String("config", "", "Path to config file")

	jobsLsCmd.Flags().Int("limit", 20, "Maximum records to list")

	jobsScheduleCmd.Flags().String("payload", "", "JSON payload")
	jobsScheduleCmd.Flags().String("priority", "medium", "Priority level: low, medium, high, urgent")
	jobsScheduleCmd.Flags().Duration("delay", 0, "Delay before the job becomes due")
	jobsScheduleCmd.Flags().Int("max-attempts", 0, "Retry ceiling (default 3)")
	jobsScheduleCmd.Flags().String("source", "", "Source tag for dedup and logging")

	jobsCleanupCmd.Flags().Int("days", 30, "Retention window in days")

	JobsCmd.AddCommand(jobsStatsCmd)
	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsGetCmd)
	JobsCmd.AddCommand(jobsScheduleCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsRetryCmd)
	JobsCmd.AddCommand(jobsPriorityCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}
