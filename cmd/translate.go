package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/pipeline"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

var (
	flagFrom          string
	flagTo            string
	flagModel         string
	flagNoPassthrough bool
)

var translateCmd = &cobra.Command{
	Use:   "translate --from <dialect> --to <dialect>",
	Short: "Translate a request payload between dialects (stdin to stdout)",
	Long:  "Reads one request body from stdin, translates it from the source dialect to the target dialect, and writes the result to stdout. Dialects: claude, openai, responses, gemini.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		src := types.Dialect(flagFrom)
		dst := types.Dialect(flagTo)
		if !src.Known() {
			return fmt.Errorf("unknown source dialect %q", flagFrom)
		}
		if !dst.Known() {
			return fmt.Errorf("unknown target dialect %q", flagTo)
		}

		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}

		out, err := pipeline.New().Translate(raw, src, dst, pipeline.Options{
			DisablePassthrough: flagNoPassthrough,
			TargetModel:        flagModel,
		})
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(out, '\n'))
		return err
	},
}

func init() {
	translateCmd.Flags().StringVar(&flagFrom, "from", "", "source dialect")
	translateCmd.Flags().StringVar(&flagTo, "to", "", "target dialect")
	translateCmd.Flags().StringVar(&flagModel, "model", "", "override the model name in the output")
	translateCmd.Flags().BoolVar(&flagNoPassthrough, "no-passthrough", false, "always re-encode, even same-dialect")
	translateCmd.MarkFlagRequired("from")
	translateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(translateCmd)
}
