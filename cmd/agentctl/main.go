package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/guiofsaints/procureflow-sub000/internal/config"
	"github.com/guiofsaints/procureflow-sub000/internal/database"
	"github.com/guiofsaints/procureflow-sub000/internal/orchestrator"
	"github.com/guiofsaints/procureflow-sub000/internal/services"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "ProcureFlow assistant control tool",
	Long: `Run assistant turns against the configured providers and inspect
provider selection, registered tools, usage and the resolved configuration.

Configuration comes from config.json, PROCUREFLOW_* environment variables
and a .env file in the working directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
		}
	},
}

// loadConfig resolves configuration from the --config flag
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openServices builds the services with logs on stderr
func openServices(cmd *cobra.Command) (*services.Services, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return services.New(cmd.Context(), cfg, logger)
}

// --- turn command ---

var turnCmd = &cobra.Command{
	Use:   "turn <message>",
	Short: "Run one assistant turn",
	Long: `Send one user message through the orchestrator and print the reply,
the tool calls it made and the tokens it used.

With --conversation the stored history of that conversation is used and the
new turn is appended to it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		user, _ := cmd.Flags().GetString("user")
		provider, _ := cmd.Flags().GetString("provider")
		conversation, _ := cmd.Flags().GetString("conversation")

		ctx := cmd.Context()
		req := orchestrator.TurnRequest{
			ConversationID: conversation,
			UserID:         user,
			Message:        strings.Join(args, " "),
			Provider:       provider,
		}
		if conversation != "" {
			if req.PriorHistory, err = svc.Conversations.Load(ctx, user, conversation); err != nil {
				return fmt.Errorf("loading conversation: %w", err)
			}
		}

		resp, err := svc.Engine.RunTurn(ctx, req)
		if err != nil {
			return err
		}
		if err := svc.Conversations.Append(ctx, user, resp.ConversationID, resp.Messages...); err != nil {
			return fmt.Errorf("storing conversation: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, resp.ReplyText)
		fmt.Fprintln(out)
		for _, r := range resp.ToolResults {
			status := "ok"
			if !r.OK() {
				status = fmt.Sprintf("%s: %s", r.Failure.Kind, r.Failure.Message)
			}
			fmt.Fprintf(out, "  tool %-22s %s\n", r.Name, status)
		}
		totals := usage.Summarize(resp.Usage)
		fmt.Fprintf(out, "  conversation %s via %s/%s: %d calls, %d+%d tokens, $%.6f, %s\n",
			resp.ConversationID, resp.Provider, resp.Model, totals.Calls,
			totals.PromptTokens, totals.CompletionTokens, totals.EstimatedCostUSD,
			resp.Duration.Round(time.Millisecond))
		return nil
	},
}

// --- providers command ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and the one a turn would use",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		out := cmd.OutOrStdout()
		for _, cfg := range svc.Providers.Configs() {
			status := "ready"
			if _, ok := svc.Providers.Get(cfg.Name); !ok {
				status = "unavailable"
			}
			fmt.Fprintf(out, "  %-12s %-18s %-28s %s\n", cfg.Name, cfg.Type, cfg.Model, status)
		}

		override, _ := cmd.Flags().GetString("provider")
		selected, err := svc.Providers.Select(override)
		if err != nil {
			fmt.Fprintf(out, "\nNo provider can serve turns: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "\nSelected: %s\n", selected.Name())
		return nil
	},
}

// --- tools command ---

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		for _, def := range svc.Tools.Definitions() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-22s %s\n", def.Name, def.Description)
		}
		return nil
	},
}

// --- usage command ---

var usageCmd = &cobra.Command{
	Use:   "usage <conversation-id>",
	Short: "Show recorded token usage of a conversation",
	Long: `Print the usage records of a conversation and their totals. Only
useful with a persistent database driver.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		records, err := svc.Ledger.ListByConversation(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("listing usage: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No usage recorded.")
			return nil
		}
		for _, r := range records {
			fmt.Fprintf(out, "  %s  %-10s %-28s %6d %6d  $%.6f\n",
				r.Timestamp.Format(time.RFC3339), r.Provider, r.Model,
				r.PromptTokens, r.CompletionTokens, r.EstimatedCostUSD)
		}
		totals := usage.Summarize(records)
		fmt.Fprintf(out, "Total: %d calls, %d prompt, %d completion tokens, $%.6f\n",
			totals.Calls, totals.PromptTokens, totals.CompletionTokens, totals.EstimatedCostUSD)
		return nil
	},
}

// --- config command ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg.Redacted())
	},
}

// --- token command ---

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()
		if svc.Tokens == nil {
			return errors.New("auth.jwt_secret is not configured")
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := svc.Tokens.Issue(args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// --- migrate command ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(db, cfg.Database); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s).\n", cfg.Database.Driver)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration (postgres only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Database.Driver != database.DriverPostgres {
			return fmt.Errorf("rollback is not supported for driver %q", cfg.Database.Driver)
		}
		if err := database.RollbackMigration(cfg.Database); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Rolled back one migration.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config.json")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	turnCmd.Flags().String("user", "cli-user", "user the turn acts for")
	turnCmd.Flags().String("provider", "", "provider override")
	turnCmd.Flags().String("conversation", "", "conversation to continue")

	providersCmd.Flags().String("provider", "", "provider override to test")

	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	rootCmd.AddCommand(turnCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
}

