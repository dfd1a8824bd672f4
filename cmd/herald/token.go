package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxzi/herald/internal/api"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Admin API token commands",
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash an admin API token for server.api_token_hash",
	Long: `Read a token from the terminal (or stdin when piped) and print its bcrypt
hash. Put the hash in server.api_token_hash or HERALD_API_TOKEN_HASH.`,
	RunE: runTokenHash,
}

func init() {
	tokenCmd.AddCommand(tokenHashCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	token, err := readToken()
	if err != nil {
		return err
	}
	if len(token) < 16 {
		return fmt.Errorf("token must be at least 16 characters")
	}

	hash, err := api.HashToken(token)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}
	fmt.Println(hash)
	return nil
}

func readToken() (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(os.Stderr, "Token: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm token: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("tokens do not match")
	}
	return string(first), nil
}
