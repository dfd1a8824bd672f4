package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/models"
)

var (
	campaignListStatus string
	campaignListLimit  int
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignPreviewCmd = &cobra.Command{
	Use:   "preview <campaign_id>",
	Short: "Resolve the campaign audience without sending",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignPreview,
}

var campaignSendCmd = &cobra.Command{
	Use:   "send <campaign_id>",
	Short: "Send a campaign to its audience",
	Long: `Resolve the campaign audience and send to every recipient. The command
waits for the dispatch to finish and prints the final counters.`,
	Args: cobra.ExactArgs(1),
	RunE: runCampaignSend,
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignListStatus, "status", "", "Filter by status (draft, sending, sent, failed)")
	campaignListCmd.Flags().IntVar(&campaignListLimit, "limit", 50, "Maximum number of campaigns")

	campaignCmd.AddCommand(campaignListCmd, campaignPreviewCmd, campaignSendCmd)
	rootCmd.AddCommand(campaignCmd)
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	campaigns, total, err := application.Repositories().Campaigns.List(cmd.Context(), models.CampaignListFilter{
		Status: campaignListStatus,
		Limit:  campaignListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if len(campaigns) == 0 {
		fmt.Println("No campaigns found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTOTAL\tSENT\tFAILED\tSKIPPED")
	fmt.Fprintln(w, "--\t----\t------\t-----\t----\t------\t-------")
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			c.ID, c.Name, c.Status, c.Stats.Total, c.Stats.Sent, c.Stats.Failed, c.Stats.Skipped)
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d campaigns\n", len(campaigns), total)
	return nil
}

func runCampaignPreview(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	c, err := application.Repositories().Campaigns.GetByID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", args[0])
	}

	preview, err := application.Dispatcher().PreviewAudience(cmd.Context(), c.Audience)
	if err != nil {
		return fmt.Errorf("failed to preview audience: %w", err)
	}

	fmt.Printf("Campaign:   %s (%s)\n", c.Name, c.ID)
	fmt.Printf("Audience:   %s\n", c.Audience.Type)
	fmt.Printf("Recipients: %d\n", preview.Count)
	for _, r := range preview.Sample {
		fmt.Printf("  %s %s %s\n", r.Email, r.FirstName, r.LastName)
	}
	return nil
}

func runCampaignSend(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Dispatcher().DispatchCampaign(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status == models.CampaignStatusFailed {
		return fmt.Errorf("campaign %s failed: %s", result.CampaignID, result.LastError)
	}
	return nil
}
