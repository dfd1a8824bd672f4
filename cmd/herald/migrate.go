package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE:  runMigrate,
}

var seedForce bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create default automation templates and SMTP settings",
	Long: `Create any missing automation templates from the built-in defaults and
fill SMTP settings from HERALD_SMTP_* when they are not configured yet.
With --force, existing automation templates are reset and SMTP settings overwritten.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().BoolVar(&seedForce, "force", false, "reset automation templates and SMTP settings")
	rootCmd.AddCommand(migrateCmd, seedCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	// app.New applies pending migrations
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	fmt.Println("Migrations completed successfully")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Seed(cmd.Context(), seedForce)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	fmt.Printf("Created:   %d\n", len(result.Created))
	for _, k := range result.Created {
		fmt.Printf("  + %s\n", k)
	}
	fmt.Printf("Refreshed: %d\n", len(result.Refreshed))
	for _, k := range result.Refreshed {
		fmt.Printf("  ~ %s\n", k)
	}
	fmt.Printf("Unchanged: %d\n", len(result.Unchanged))
	return nil
}
