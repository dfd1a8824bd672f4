package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/herald/internal/dispatch"
)

var (
	testSendTo      string
	testSendSubject string
	testSendBody    string
	testSendVars    map[string]string
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Testing commands",
}

var testSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a test message with the stored mail settings",
	RunE:  runTestSend,
}

func init() {
	testSendCmd.Flags().StringVar(&testSendTo, "to", "", "Recipient address (required)")
	testSendCmd.Flags().StringVar(&testSendSubject, "subject", "Herald test message", "Message subject")
	testSendCmd.Flags().StringVar(&testSendBody, "body", "<p>This is a test message from {{appName}}.</p>", "HTML body")
	testSendCmd.Flags().StringToStringVar(&testSendVars, "var", nil, "Template variable (key=value), repeatable")
	testSendCmd.MarkFlagRequired("to")

	testCmd.AddCommand(testSendCmd)
	rootCmd.AddCommand(testCmd)
}

func runTestSend(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	vars := make(map[string]any, len(testSendVars))
	for k, v := range testSendVars {
		vars[k] = v
	}

	result := application.Dispatcher().SendTest(cmd.Context(), dispatch.TestRequest{
		To:        testSendTo,
		Subject:   testSendSubject,
		Body:      testSendBody,
		Variables: vars,
	})

	fmt.Printf("Status: %s\n", result.Status)
	if result.ProviderMessageID != "" {
		fmt.Printf("Message-ID: %s\n", result.ProviderMessageID)
	}
	if !result.OK() {
		return fmt.Errorf("test message %s: %s", result.Status, result.Error)
	}
	return nil
}
