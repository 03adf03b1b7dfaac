package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/antigravity"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/codex"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/auth/iflow"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential state for each configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.Providers) == 0 {
			fmt.Println("No providers configured.")
			return nil
		}

		for _, entry := range cfg.Providers {
			printProviderStatus(entry)
		}
		return nil
	},
}

func printProviderStatus(entry config.Entry) {
	name := entry.Provider
	if !entry.IsEnabled() {
		fmt.Printf("%-12s %s\n", name, color.New(color.Faint).Sprint("disabled"))
		return
	}

	switch {
	case entry.APIKey != "":
		fmt.Printf("%-12s %s (api key)\n", name, color.GreenString("configured"))
	case entry.ServiceAccount != "":
		if _, err := os.Stat(entry.ServiceAccount); err != nil {
			fmt.Printf("%-12s %s (service account missing)\n", name, color.RedString("error"))
		} else {
			fmt.Printf("%-12s %s (service account)\n", name, color.GreenString("configured"))
		}
	case entry.OAuthToken != "":
		state, email := tokenState(entry)
		fmt.Printf("%-12s %s %s\n", name, colorState(state), color.New(color.Faint).Sprint(email))
	}
}

func tokenState(entry config.Entry) (auth.TokenState, string) {
	var state auth.TokenState
	switch entry.Provider {
	case config.ProviderAntigravity:
		c, err := antigravity.NewClient(entry.OAuthToken)
		if err != nil {
			return auth.StateRefreshFailed, ""
		}
		state = c.State()
	case config.ProviderIFlow:
		state = iflow.NewClient(entry.OAuthToken).State()
	default:
		state = codex.NewClient(entry.OAuthToken).State()
	}

	email := ""
	if rec, err := auth.ReadTokenFile(entry.OAuthToken); err == nil {
		email = rec.Email
	}
	return state, email
}

func colorState(state auth.TokenState) string {
	switch state {
	case auth.StateValid:
		return color.GreenString(string(state))
	case auth.StateExpiringSoon:
		return color.YellowString(string(state))
	default:
		return color.RedString(string(state))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
