package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  API: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Sandbox: %v\n", cfg.Sandbox.Enabled)
	fmt.Printf("  Concurrency: %d\n", cfg.Dispatch.Concurrency)
	fmt.Printf("  DKIM: %v\n", cfg.DKIM.Enabled)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	if cfg.Server.APITokenHash == "" {
		fmt.Println("  Warning: api_token_hash is empty, admin API is unauthenticated")
	}
	if cfg.SMTPBootstrap.IsSet() {
		fmt.Println("  SMTP bootstrap values present")
	}

	return nil
}
