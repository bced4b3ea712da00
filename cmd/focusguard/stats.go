package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/stats"
	"github.com/spf13/cobra"
)

var (
	statsDays int
	statsTop  int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recorded browsing time",
	Long:  `Print per-day totals, saved time, blocked attempts and the most visited sites.`,
	Example: `  focusguard -c config.yaml stats
  focusguard stats -days 7 -top 5`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 1, "Number of days to show, ending today")
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "Number of sites to list per day (0 for all)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsDays < 1 || statsDays > 366 {
		return fmt.Errorf("days must be between 1 and 366")
	}

	_, store, engine, aggregator, err := loadEngine(time.Now)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	days, err := aggregator.Range(ctx, time.Now(), statsDays)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}

	schedules, err := engine.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	isDistracting := func(host string) bool {
		return policy.IsDistracting(host, schedules)
	}

	wasted, err := aggregator.LegacyWastedTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to load wasted time: %w", err)
	}

	printStats(days, isDistracting, statsTop, wasted)
	return nil
}

func printStats(days []stats.Day, isDistracting func(string) bool, top int, legacyWasted int64) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("BROWSING TIME")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	for _, day := range days {
		fmt.Println()
		cyan.Println(day.Key)
		fmt.Printf("  Total:    %s\n", formatSeconds(day.Stats.TotalTime))
		fmt.Printf("  Saved:    %s\n", formatSeconds(day.Stats.SavedTime))
		fmt.Printf("  Blocked:  %d\n", day.Stats.Blocked)

		sites := stats.TopSites(day.Stats, isDistracting)
		if top > 0 && len(sites) > top {
			sites = sites[:top]
		}
		for _, site := range sites {
			line := fmt.Sprintf("    %-40s %s", site.Host, formatSeconds(site.Seconds))
			if site.Distracting {
				red.Println(line)
			} else {
				fmt.Println(line)
			}
		}
		if len(sites) == 0 {
			yellow.Println("    (no browsing recorded)")
		}
	}

	if legacyWasted > 0 {
		fmt.Println()
		yellow.Printf("Wasted time (older extension versions): %s\n", formatSeconds(legacyWasted))
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func formatSeconds(secs int64) string {
	return (time.Duration(secs) * time.Second).String()
}
