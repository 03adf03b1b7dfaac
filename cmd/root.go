// Package cmd holds the gateway's command-line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "neuroloom-gateway",
	Short:         "Model-agnostic LLM request gateway",
	Long:          "Translates LLM API requests between dialects and routes them across configured upstream providers with retries and fallback.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initRuntime)
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func initRuntime() {
	_ = godotenv.Load()

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	} else {
		switch os.Getenv("NEUROLOOM_LOG_LEVEL") {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && flagConfig == "" {
		return config.FromEnv(), nil
	}
	return config.Load(path)
}

// tokenFilePath returns the default token file location for an upstream.
func tokenFilePath(upstream string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return upstream + ".json"
	}
	return home + "/.neuroloom/" + upstream + ".json"
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("failed to open browser", "error", err)
	}
}
