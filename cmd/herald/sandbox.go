package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/sandbox"
)

var (
	sandboxListTo    string
	sandboxListLimit int
	sandboxShowRaw   bool
	sandboxClearAge  time.Duration
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Inspect messages captured in sandbox mode",
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured messages",
	RunE:  runSandboxList,
}

var sandboxShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a captured message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxShow,
}

var sandboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete captured messages",
	RunE:  runSandboxClear,
}

var sandboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show capture statistics",
	RunE:  runSandboxStats,
}

func init() {
	sandboxListCmd.Flags().StringVar(&sandboxListTo, "to", "", "Filter by recipient")
	sandboxListCmd.Flags().IntVar(&sandboxListLimit, "limit", 50, "Maximum number of messages")
	sandboxShowCmd.Flags().BoolVar(&sandboxShowRaw, "raw", false, "Print the raw RFC 5322 message")
	sandboxClearCmd.Flags().DurationVar(&sandboxClearAge, "older-than", 0, "Only delete messages older than this duration")

	sandboxCmd.AddCommand(sandboxListCmd, sandboxShowCmd, sandboxClearCmd, sandboxStatsCmd)
	rootCmd.AddCommand(sandboxCmd)
}

// openSandbox opens the capture store directly; the bbolt file lock makes
// this fail while a server holds it
func openSandbox() (*sandbox.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Sandbox.Enabled {
		return nil, fmt.Errorf("sandbox mode is not enabled in %s", cfgFile)
	}
	return sandbox.Open(cfg.Sandbox.Path)
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	storage, err := openSandbox()
	if err != nil {
		return err
	}
	defer storage.Close()

	captures, err := storage.List(cmd.Context(), sandbox.ListFilter{To: sandboxListTo, Limit: sandboxListLimit})
	if err != nil {
		return err
	}
	if len(captures) == 0 {
		fmt.Println("No messages in sandbox")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPTURED\tTO\tSUBJECT\tERROR")
	fmt.Fprintln(w, "--\t--------\t--\t-------\t-----")
	for _, c := range captures {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.CapturedAt.Format("2006-01-02 15:04:05"), strings.Join(c.To, ", "), c.Subject, c.SimulatedError)
	}
	w.Flush()
	return nil
}

func runSandboxShow(cmd *cobra.Command, args []string) error {
	storage, err := openSandbox()
	if err != nil {
		return err
	}
	defer storage.Close()

	c, err := storage.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("message not found: %s", args[0])
	}

	if sandboxShowRaw {
		os.Stdout.Write(c.Data)
		return nil
	}

	fmt.Printf("ID:         %s\n", c.ID)
	fmt.Printf("Message-ID: %s\n", c.MessageID)
	fmt.Printf("From:       %s\n", c.From)
	fmt.Printf("To:         %s\n", strings.Join(c.To, ", "))
	fmt.Printf("Subject:    %s\n", c.Subject)
	fmt.Printf("Captured:   %s\n", c.CapturedAt.Format(time.RFC3339))
	fmt.Printf("Size:       %d bytes\n", len(c.Data))
	if c.SimulatedError != "" {
		fmt.Printf("Error:      %s\n", c.SimulatedError)
	}
	return nil
}

func runSandboxClear(cmd *cobra.Command, args []string) error {
	storage, err := openSandbox()
	if err != nil {
		return err
	}
	defer storage.Close()

	deleted, err := storage.Clear(cmd.Context(), sandboxClearAge)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d messages\n", deleted)
	return nil
}

func runSandboxStats(cmd *cobra.Command, args []string) error {
	storage, err := openSandbox()
	if err != nil {
		return err
	}
	defer storage.Close()

	stats, err := storage.Stats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Messages: %d\n", stats.Total)
	fmt.Printf("Failed:   %d\n", stats.Failed)
	fmt.Printf("Size:     %d bytes\n", stats.TotalSize)
	if stats.Total > 0 {
		fmt.Printf("Oldest:   %s\n", stats.OldestAt.Format(time.RFC3339))
		fmt.Printf("Newest:   %s\n", stats.NewestAt.Format(time.RFC3339))
	}
	return nil
}
