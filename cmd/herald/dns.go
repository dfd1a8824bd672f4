package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/dnscheck"
)

var dnsSelector string

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "DNS commands",
}

var dnsCheckCmd = &cobra.Command{
	Use:   "check [domain]",
	Short: "Check SPF, DKIM, DMARC and MX records of a sending domain",
	Long: `Check the DNS records receivers use to authenticate mail from a domain.
Without arguments the configured DKIM domain and selector are checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDNSCheck,
}

func init() {
	dnsCheckCmd.Flags().StringVar(&dnsSelector, "selector", "", "DKIM selector to check")
	dnsCmd.AddCommand(dnsCheckCmd)
	rootCmd.AddCommand(dnsCmd)
}

func runDNSCheck(cmd *cobra.Command, args []string) error {
	domain, selector := "", dnsSelector
	if len(args) == 1 {
		domain = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.DKIM.Enabled {
			return fmt.Errorf("no domain given and DKIM is not configured")
		}
		domain = cfg.DKIM.Domain
		if selector == "" {
			selector = cfg.DKIM.Selector
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	report, err := dnscheck.New(nil).CheckDomain(ctx, domain, selector)
	if err != nil {
		return err
	}

	fmt.Printf("DNS check for %s\n\n", report.Domain)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSTATUS\tNAME\tDETAILS")
	fmt.Fprintln(w, "----\t------\t----\t-------")
	for _, r := range report.Results {
		details := r.Message
		if details == "" {
			details = r.Value
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Type, r.Status, r.Name, details)
	}
	w.Flush()

	if !report.OK() {
		return fmt.Errorf("%s has missing or broken records", report.Domain)
	}
	return nil
}
