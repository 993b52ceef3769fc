package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/fakeollama/internal/config"
	"github.com/kalambet/fakeollama/internal/ollama"
	"github.com/kalambet/fakeollama/internal/storage"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newNativeClient(cmd.Flags())
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), client)
	},
}

func showStatus(ctx context.Context, client *ollama.Client) error {
	if !client.IsRunning(ctx) {
		printStatus("Server", "stopped")
		return nil
	}
	printStatus("Server", "running")

	models, err := client.ListModels(ctx)
	if err != nil {
		printWarning("listing models: %v", err)
		return nil
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	printStatus("Models", "%s", countLabel(names))
	return nil
}

func countLabel(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return fmt.Sprintf("%d (%s)", len(names), strings.Join(names, ", "))
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models advertised by the gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newNativeClient(cmd.Flags())
		if err != nil {
			return err
		}
		models, err := client.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		rows := make([][]string, len(models))
		for i, m := range models {
			rows[i] = []string{m.Name, m.Details.Family, m.Details.ParameterSize, m.Details.QuantizationLevel, strconv.FormatInt(m.Size, 10)}
		}
		return printTable([]string{"NAME", "FAMILY", "PARAMS", "QUANT", "SIZE"}, rows)
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a single prompt through the gateway",
	Long: `Send a single user message to /api/chat and print the answer.

Examples:
  fakeollama chat --model llama2 "why is the sky blue?"
  fakeollama chat --model mistral --no-stream "hello"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		noStream, _ := cmd.Flags().GetBool("no-stream")
		if model == "" {
			return fmt.Errorf("--model is required")
		}

		client, err := newNativeClient(cmd.Flags())
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), client, model, strings.Join(args, " "), !noStream)
	},
}

func runChat(ctx context.Context, client *ollama.Client, model, prompt string, stream bool) error {
	req := ollama.ChatRequest{
		Model:    model,
		Messages: []ollama.Message{{Role: "user", Content: prompt}},
		Stream:   stream,
	}
	last, err := client.Chat(ctx, req, func(rec ollama.ChatResponse) {
		fmt.Fprint(stdout, rec.Message.Content)
	})
	fmt.Fprintln(stdout)
	if err != nil {
		return err
	}
	if !last.Done {
		printWarning("stream ended without a final record")
	}
	return nil
}

func init() {
	chatCmd.Flags().String("model", "", "model name to request")
	chatCmd.Flags().Bool("no-stream", false, "request a single aggregated response")
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the request usage ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		totals, _ := cmd.Flags().GetBool("totals")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.Usage.Enabled {
			printWarning("usage ledger is disabled; enable it with: fakeollama config set usage.enabled true")
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if totals {
			return printTotals(cmd.Context(), store)
		}
		return printUsage(cmd.Context(), store, limit)
	},
}

func printUsage(ctx context.Context, store *storage.Store, limit int) error {
	rows, err := store.RecentUsage(ctx, limit)
	if err != nil {
		return err
	}
	out := make([][]string, len(rows))
	for i, u := range rows {
		out[i] = []string{
			u.CreatedAt.Local().Format(time.DateTime),
			u.Route,
			u.Model,
			strconv.FormatBool(u.Stream),
			strconv.Itoa(u.Status),
			strconv.FormatInt(u.PromptTokens, 10),
			strconv.FormatInt(u.CompletionTokens, 10),
			strconv.Itoa(u.Records),
			strconv.FormatInt(u.DurationMs, 10) + "ms",
		}
	}
	return printTable([]string{"TIME", "ROUTE", "MODEL", "STREAM", "STATUS", "PROMPT", "COMPLETION", "RECORDS", "DURATION"}, out)
}

func printTotals(ctx context.Context, store *storage.Store) error {
	totals, err := store.TotalsByModel(ctx)
	if err != nil {
		return err
	}
	out := make([][]string, len(totals))
	for i, t := range totals {
		out[i] = []string{
			t.Model,
			strconv.Itoa(t.Requests),
			strconv.FormatInt(t.PromptTokens, 10),
			strconv.FormatInt(t.CompletionTokens, 10),
		}
	}
	return printTable([]string{"MODEL", "REQUESTS", "PROMPT", "COMPLETION"}, out)
}

func init() {
	usageCmd.Flags().Int("limit", 20, "maximum number of rows to list")
	usageCmd.Flags().Bool("totals", false, "show per-model totals instead of recent rows")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if strings.HasSuffix(key, "api_key") || strings.HasSuffix(key, "token") {
			printSuccess("Set %s", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
