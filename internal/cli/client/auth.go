package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// AuthCmd creates the auth parent command
func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication credentials",
		Long:  "Login, logout, and check authentication status for the chimera CLI",
	}

	cmd.AddCommand(AuthLoginCmd())
	cmd.AddCommand(AuthLogoutCmd())
	cmd.AddCommand(AuthStatusCmd())

	return cmd
}

// AuthLoginCmd creates the auth login command
func AuthLoginCmd() *cobra.Command {
	var apiKey, apiURL string
	var skipVerify bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login with API key",
		Long: `Store API key and URL in the global config (~/.config/chimera/config.json,
or $CHIMERA_CONFIG_DIR/config.json). The key is checked against the server first
unless --no-verify is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !skipVerify && apiKey != "" {
				if err := verifyKey(cmd.Context(), apiKey, apiURL); err != nil {
					return err
				}
			}
			return runAuthLogin(cmd.InOrStdin(), cmd.OutOrStdout(), apiKey, apiURL)
		},
	}

	cmd.Flags().StringVar(&apiKey, "key", "", "API key (prompted when empty)")
	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "API URL")
	cmd.Flags().BoolVar(&skipVerify, "no-verify", false, "Store the key without contacting the server")

	return cmd
}

// AuthLogoutCmd creates the auth logout command
func AuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Logout and clear credentials",
		Long:  "Remove stored credentials from global config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return fmt.Errorf("failed to logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged out")
			return nil
		},
	}
}

// AuthStatusCmd creates the auth status command
func AuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long:  "Display current authentication source and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			source, apiKey, apiURL := GetCredentialSource("", "")
			return writeStatus(cmd.OutOrStdout(), source, apiKey, apiURL, outputJSON)
		},
	}
}

func runAuthLogin(in io.Reader, out io.Writer, apiKey, apiURL string) error {
	if apiKey == "" {
		fmt.Fprint(out, "Enter API key: ")
		input, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		apiKey = strings.TrimSpace(input)
	}
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if err := SaveGlobalConfig(&GlobalConfig{APIKey: apiKey, APIURL: apiURL}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintln(out, "Successfully logged in")
	return nil
}

// verifyKey calls an authenticated route. Only a 401 fails verification;
// a server without a run log still proves the key was accepted.
func verifyKey(ctx context.Context, apiKey, apiURL string) error {
	_, err := NewAPIClientWithConfig(apiKey, apiURL).Get(ctx, "/v1/runs?kb_id=_&limit=1")
	var apiErr *APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("server at %s rejected the API key", apiURL)
	case errors.As(err, &apiErr):
		return nil
	default:
		return fmt.Errorf("failed to reach %s: %w", apiURL, err)
	}
}

func writeStatus(out io.Writer, source CredentialSource, apiKey, apiURL string, outputJSON bool) error {
	if outputJSON {
		status := map[string]any{
			"authenticated": source != SourceNone,
			"source":        string(source),
		}
		if source != SourceNone {
			status["api_key"] = maskAPIKey(apiKey)
			status["api_url"] = apiURL
		}
		return printJSON(out, status)
	}

	if source == SourceNone {
		fmt.Fprintln(out, "Not authenticated")
		fmt.Fprintln(out, "Run 'chimera auth login' to authenticate")
		return nil
	}

	fmt.Fprintf(out, "Authenticated: yes\n")
	fmt.Fprintf(out, "Source: %s\n", source)
	fmt.Fprintf(out, "API Key: %s\n", maskAPIKey(apiKey))
	fmt.Fprintf(out, "API URL: %s\n", apiURL)
	return nil
}

func maskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// printJSON writes v indented
func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
