package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "fakeollama",
	Short: "Serve the Ollama chat API on top of an OpenAI-compatible backend",
	Long: `fakeollama exposes the Ollama chat surface (/api/chat, /api/generate,
/api/tags) and forwards every request to an OpenAI-compatible backend.

Run without a subcommand to start the server.

Examples:
  fakeollama --url https://api.example.com --api-key sk-... --enabled-models llama2,mistral
  fakeollama status
  fakeollama chat --model llama2 "why is the sky blue?"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("addr", "", "listen address of the gateway (host:port)")
	addServeFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Fprintf(os.Stderr, "fakeollama version %s\n", version)
}
