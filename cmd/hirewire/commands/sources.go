package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hirewire/hirewire/logger"
	"github.com/hirewire/hirewire/scraper"
)

// SourcesCmd groups scrape source operations.
var SourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage scrape sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sourcesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List scrape sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		activeOnly, _ := cmd.Flags().GetBool("active")

		_, database, err := openEnvironment(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		sources, err := scraper.NewSourceStore(database).List(context.Background(), activeOnly)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources")
			return nil
		}

		fmt.Printf("%-36s  %-20s  %-7s  %-10s  %-8s  %s\n", "ID", "NAME", "ACTIVE", "RATE/MIN", "PRODUCED", "LAST SCRAPED")
		for _, source := range sources {
			lastScraped := "never"
			if source.LastScraped != nil {
				lastScraped = source.LastScraped.Local().Format(time.RFC3339)
			}
			fmt.Printf("%-36s  %-20s  %-7t  %-10d  %-8d  %s\n",
				source.ID, source.Name, source.IsActive, source.RateLimit,
				source.TotalJobsProduced, lastScraped)
		}
		return nil
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <name> <base-url>",
	Short: "Register a scrape source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rateLimit, _ := cmd.Flags().GetInt("rate")
		active, _ := cmd.Flags().GetBool("active")
		config, _ := cmd.Flags().GetString("paths-config")

		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := context.Background()
		scheduler := scraper.NewScheduler(ctx, scraper.NewSourceStore(database), manager,
			scraper.DefaultSchedulerConfig(), logger.Logger)
		defer scheduler.Stop()

		// The daemon's reconcile sweep picks up the new source within its
		// interval; the timer started here only lives for this invocation.
		source, err := scheduler.AddSource(ctx, args[0], args[1], rateLimit, active, config)
		if err != nil {
			return err
		}
		fmt.Printf("Added source %s (%s)\n", source.ID, source.Name)
		return nil
	},
}

var sourcesRmCmd = &cobra.Command{
	Use:   "rm <source-id>",
	Short: "Delete a scrape source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, err := openEnvironment(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		if err := scraper.NewSourceStore(database).Delete(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted")
		return nil
	},
}

var sourcesForceCmd = &cobra.Command{
	Use:   "force <source-id>",
	Short: "Enqueue an immediate scrape for a source",
	Long: `Enqueue an immediate scrape for a source, bypassing its timer but
still consuming the rolling rate window for this invocation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, manager, err := openManager(configFlag(cmd))
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := context.Background()
		scheduler := scraper.NewScheduler(ctx, scraper.NewSourceStore(database), manager,
			scraper.DefaultSchedulerConfig(), logger.Logger)
		defer scheduler.Stop()

		if err := scheduler.ForceScrape(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Scrape enqueued")
		return nil
	},
}

func init() {
	SourcesCmd.PersistentFlags().String("config", "", "Path to config file")

	sourcesLsCmd.Flags().Bool("active", false, "Only list active sources")

	sourcesAddCmd.Flags().Int("rate", 60, "Scrapes per rolling 60s window")
	sourcesAddCmd.Flags().Bool("active", true, "Start scraping immediately")
	sourcesAddCmd.Flags().String("paths-config", "", `Source config JSON, e.g. {"paths":["/jobs"]}`)

	SourcesCmd.AddCommand(sourcesLsCmd)
	SourcesCmd.AddCommand(sourcesAddCmd)
	SourcesCmd.AddCommand(sourcesRmCmd)
	SourcesCmd.AddCommand(sourcesForceCmd)
}
