package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/proxycat"
)

var flagKind string

var catalogCmd = &cobra.Command{
	Use:   "catalog [upstream]",
	Short: "List the proxy-exposable upstream surfaces",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var exposures []proxycat.Exposure
		if len(args) == 1 {
			found, err := proxycat.Lookup(args[0], proxycat.Kind(flagKind))
			if err != nil {
				return err
			}
			exposures = found
		} else {
			exposures = proxycat.All()
		}

		for _, e := range exposures {
			target := e.URL
			if e.Kind == proxycat.KindCLI {
				target = strings.Join(e.Command, " ")
			}
			fmt.Printf("%-12s %-10s %-5s %s\n",
				e.Upstream, color.CyanString(string(e.Kind)), e.Method, target)
			if e.Notes != "" {
				fmt.Printf("%-12s %s\n", "", color.New(color.Faint).Sprint(e.Notes))
			}
		}
		return nil
	},
}

func init() {
	catalogCmd.Flags().StringVar(&flagKind, "kind", "", "filter by kind (api, auth, websocket, cli)")
	rootCmd.AddCommand(catalogCmd)
}
