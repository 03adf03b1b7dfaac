package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/models"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/provider"
)

var flagOffline bool

var modelsCmd = &cobra.Command{
	Use:   "models <provider>",
	Short: "List the models a configured provider serves",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagOffline {
			known := models.Known(args[0])
			if len(known) == 0 {
				return fmt.Errorf("no known models for provider %q", args[0])
			}
			for _, name := range known {
				fmt.Println(name)
			}
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		reg := codec.NewRegistry()
		for _, entry := range cfg.EnabledProviders() {
			if entry.Provider != args[0] {
				continue
			}
			p, err := provider.New(entry, reg)
			if err != nil {
				return err
			}
			lister, ok := p.(provider.ModelLister)
			if !ok {
				for _, name := range models.Known(args[0]) {
					fmt.Println(name)
				}
				return nil
			}
			if p.NeedsRefresh() {
				if err := p.RefreshAuth(cmd.Context()); err != nil {
					return err
				}
			}
			names, err := lister.Models(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		}
		return fmt.Errorf("provider %q is not configured", args[0])
	},
}

func init() {
	modelsCmd.Flags().BoolVar(&flagOffline, "offline", false, "print the static catalog without calling the upstream")
	rootCmd.AddCommand(modelsCmd)
}
