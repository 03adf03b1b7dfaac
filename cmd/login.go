package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/antigravity"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/codex"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/iflow"
)

var (
	flagNoBrowser bool
	flagTokenFile string
	flagCookie    string
)

var loginCmd = &cobra.Command{
	Use:   "login <upstream>",
	Short: "Authenticate against an upstream and persist the token file",
	Long:  "Runs the upstream's auth flow. codex and antigravity open a browser OAuth flow with a local callback; iflow takes a pasted console cookie via --cookie.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		upstream := args[0]
		tokenPath := flagTokenFile
		if tokenPath == "" {
			tokenPath = tokenFilePath(upstream)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		switch upstream {
		case codex.Upstream:
			srv, err := codex.NewLoginServer("127.0.0.1", tokenPath)
			if err != nil {
				return err
			}
			authURL := srv.AuthURL()
			if !flagNoBrowser {
				openBrowser(authURL)
			}
			fmt.Fprintf(os.Stderr, "If your browser did not open, navigate to:\n%s\n", authURL)
			record, err := srv.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s, tokens saved to %s\n", record.Email, tokenPath)
			return nil

		case antigravity.Upstream:
			open := openBrowserFunc(flagNoBrowser)
			record, err := antigravity.Login(ctx, tokenPath, open)
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s, tokens saved to %s\n", record.Email, tokenPath)
			return nil

		case iflow.Upstream:
			if flagCookie == "" {
				return fmt.Errorf("iflow login requires --cookie (copy it from a logged-in platform.iflow.cn session)")
			}
			client := iflow.NewClient(tokenPath)
			if err := client.SaveCookie(flagCookie); err != nil {
				return err
			}
			if err := client.Refresh(ctx); err != nil {
				return err
			}
			fmt.Printf("API key saved to %s\n", tokenPath)
			return nil
		}
		return fmt.Errorf("unknown upstream %q (want codex, antigravity, or iflow)", upstream)
	},
}

func openBrowserFunc(noBrowser bool) func(string) error {
	return func(url string) error {
		fmt.Fprintf(os.Stderr, "If your browser did not open, navigate to:\n%s\n", url)
		if !noBrowser {
			openBrowser(url)
		}
		return nil
	}
}

func init() {
	loginCmd.Flags().BoolVar(&flagNoBrowser, "no-browser", false, "do not open the browser automatically")
	loginCmd.Flags().StringVar(&flagTokenFile, "token-file", "", "token file path (default ~/.neuroloom/<upstream>.json)")
	loginCmd.Flags().StringVar(&flagCookie, "cookie", "", "browser cookie for iflow login")
	rootCmd.AddCommand(loginCmd)
}
