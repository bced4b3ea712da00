package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/spf13/cobra"
)

var (
	checkDay  string
	checkTime string
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] HOST",
	Short: "Check whether a site would be blocked",
	Long:  `Check which blocking schedule, if any, would block a hostname or URL at a given time.`,
	Example: `  focusguard -c config.yaml check www.youtube.com
  focusguard check -day monday -time 10:30 https://news.ycombinator.com/`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	hostname := checkHostname(args[0])
	if hostname == "" {
		return fmt.Errorf("invalid host: %s", args[0])
	}

	// Parse time (if provided)
	checkDateTime := time.Now()
	if checkDay != "" || checkTime != "" {
		var err error
		checkDateTime, err = parseCheckTime(time.Now(), checkDay, checkTime)
		if err != nil {
			return fmt.Errorf("invalid time specification: %w", err)
		}
	}

	_, store, engine, _, err := loadEngine(func() time.Time { return checkDateTime })
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	decision, err := engine.EvaluateAt(ctx, hostname, checkDateTime)
	if err != nil {
		return fmt.Errorf("failed to evaluate schedules: %w", err)
	}

	schedules, err := engine.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	printCheckResult(hostname, checkDateTime, decision, policy.IsDistracting(hostname, schedules))
	return nil
}

// checkHostname accepts either a bare hostname or a URL.
func checkHostname(arg string) string {
	if strings.Contains(arg, "://") {
		u, err := url.Parse(arg)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	return strings.ToLower(strings.TrimSpace(arg))
}

// printCheckResult prints the check result with colors
func printCheckResult(hostname string, at time.Time, decision policy.Decision, distracting bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("BLOCKING SCHEDULE CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Host:       %s\n", hostname)
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
	fmt.Println()

	cyan.Print("Decision:   ")
	if decision.Blocked {
		red.Println("BLOCK")
		fmt.Println("            → Tab will be redirected to the blocked page")
		fmt.Printf("Schedule:   %s (%s)\n", decision.ScheduleName, decision.ScheduleID)
		fmt.Printf("Pattern:    %s\n", decision.Pattern)
	} else {
		green.Println("ALLOW")
		fmt.Println("            → Time will be counted normally")
	}

	if distracting {
		yellow.Println("Listed:     on at least one schedule's blocked sites")
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// parseCheckTime parses day and time flags into the next matching time
// relative to now.
func parseCheckTime(now time.Time, dayStr, timeStr string) (time.Time, error) {
	// Parse time (HH:MM)
	hour := now.Hour()
	minute := now.Minute()

	if timeStr != "" {
		parts := strings.Split(timeStr, ":")
		if len(parts) != 2 {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format")
		}

		if _, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute); err != nil {
			return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
		}

		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return time.Time{}, fmt.Errorf("invalid time: hour must be 0-23, minute must be 0-59")
		}
	}

	// Parse day of week
	targetDay := now.Weekday()
	if dayStr != "" {
		switch strings.ToLower(dayStr) {
		case "sunday", "sun":
			targetDay = time.Sunday
		case "monday", "mon":
			targetDay = time.Monday
		case "tuesday", "tue":
			targetDay = time.Tuesday
		case "wednesday", "wed":
			targetDay = time.Wednesday
		case "thursday", "thu":
			targetDay = time.Thursday
		case "friday", "fri":
			targetDay = time.Friday
		case "saturday", "sat":
			targetDay = time.Saturday
		default:
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
	}

	// Calculate target date
	daysUntilTarget := int(targetDay - now.Weekday())
	if daysUntilTarget < 0 {
		daysUntilTarget += 7
	}

	targetDate := now.AddDate(0, 0, daysUntilTarget)
	return time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), hour, minute, 0, 0, now.Location()), nil
}
