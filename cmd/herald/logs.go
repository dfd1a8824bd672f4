package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/models"
)

var (
	logsStatus     string
	logsCategory   string
	logsCampaignID string
	logsTo         string
	logsSince      time.Duration
	logsLimit      int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Send log commands",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List send log entries, newest first",
	RunE:  runLogsList,
}

var logsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show send log counters",
	RunE:  runLogsStats,
}

func init() {
	for _, c := range []*cobra.Command{logsListCmd, logsStatsCmd} {
		c.Flags().StringVar(&logsStatus, "status", "", "Filter by status (sent, failed, skipped)")
		c.Flags().StringVar(&logsCategory, "category", "", "Filter by category")
		c.Flags().StringVar(&logsCampaignID, "campaign", "", "Filter by campaign ID")
		c.Flags().StringVar(&logsTo, "to", "", "Filter by recipient")
		c.Flags().DurationVar(&logsSince, "since", 0, "Only entries newer than this duration (e.g. 24h)")
	}
	logsListCmd.Flags().IntVar(&logsLimit, "limit", 50, "Maximum number of entries")

	logsCmd.AddCommand(logsListCmd, logsStatsCmd)
	rootCmd.AddCommand(logsCmd)
}

func logsFilter() models.SendLogFilter {
	filter := models.SendLogFilter{
		Status:     logsStatus,
		Category:   logsCategory,
		CampaignID: logsCampaignID,
		To:         logsTo,
		Limit:      logsLimit,
	}
	if logsSince > 0 {
		from := time.Now().Add(-logsSince)
		filter.FromDate = &from
	}
	return filter
}

func runLogsList(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	entries, total, err := application.Repositories().Logs.List(cmd.Context(), logsFilter())
	if err != nil {
		return fmt.Errorf("failed to list send log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No entries found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tSTATUS\tCATEGORY\tTO\tSUBJECT\tERROR")
	fmt.Fprintln(w, "-------\t------\t--------\t--\t-------\t-----")
	for _, e := range entries {
		subject := e.Subject
		if len(subject) > 40 {
			subject = subject[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Status, e.Category, e.To, subject, e.ErrorMessage)
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d entries\n", len(entries), total)
	return nil
}

func runLogsStats(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.Repositories().Logs.Stats(cmd.Context(), logsFilter())
	if err != nil {
		return fmt.Errorf("failed to get send log stats: %w", err)
	}

	fmt.Printf("Total:   %d\n", stats.Total)
	fmt.Printf("Sent:    %d\n", stats.Sent)
	fmt.Printf("Failed:  %d\n", stats.Failed)
	fmt.Printf("Skipped: %d\n", stats.Skipped)
	return nil
}
