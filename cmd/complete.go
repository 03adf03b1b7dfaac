package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/gateway"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

var (
	flagInDialect string
	flagStream    bool
)

var completeCmd = &cobra.Command{
	Use:   "complete --from <dialect>",
	Short: "Run a request through the provider chain (stdin to stdout)",
	Long:  "Reads one request body from stdin, admits it through the rate limiter, and executes it against the configured providers with retries and fallback. Prints the response text.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		src := types.Dialect(flagInDialect)
		if !src.Known() {
			return fmt.Errorf("unknown source dialect %q", flagInDialect)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gw, err := gateway.New(cfg, slog.Default())
		if err != nil {
			return err
		}

		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		prep, err := gw.PrepareRequest(ctx, raw, src)
		if err != nil {
			return err
		}
		defer prep.Release()

		if flagStream {
			s, err := gw.ExecuteStream(ctx, prep)
			if err != nil {
				return err
			}
			defer s.Close()
			for {
				chunk, err := s.Next(ctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				if chunk.Type == types.ChunkText {
					fmt.Print(chunk.Text)
				}
			}
			fmt.Println()
			return nil
		}

		resp, err := gw.Execute(ctx, prep)
		if err != nil {
			return err
		}
		fmt.Println(resp.Text)
		for _, tc := range resp.ToolCalls {
			fmt.Fprintf(os.Stderr, "tool call: %s(%s)\n", tc.Name, tc.Args)
		}
		return nil
	},
}

func init() {
	completeCmd.Flags().StringVar(&flagInDialect, "from", string(types.DialectOpenAI), "source dialect of the request body")
	completeCmd.Flags().BoolVar(&flagStream, "stream", false, "stream the response")
	rootCmd.AddCommand(completeCmd)
}
