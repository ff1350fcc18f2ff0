package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hometrack/internal/app"
	"hometrack/internal/domain"
	"hometrack/internal/engine"
	"hometrack/internal/logging"
	"hometrack/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "ht",
	Short: "Hometrack CLI",
	Long: `Hometrack keeps a household renovation plan in one JSON document.
- Tasks: top-level jobs with one level of subtasks, dates, vendors and dependencies.
- Materials: things a task needs, moved along need-to-select -> ordered -> on-hand by questions.
- Questions: structured prompts for a person; answers are reviewed, then accepted or rejected.
- Detection: rules that raise questions for conflicts, past-due work and overdue deliveries.
- Event log: every saved change is recorded in .hometrack/hometrack.db, view with 'ht log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HOMETRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (.yml or .toml) instead of the workspace hometrack.yml")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "actor recorded in the event log (defaults to owner)")
	flags.Bool("force", false, "skip duplicate checks and blocking impacts")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json, logfmt")
	flags.String("jwt-secret", "", "HS256 secret for API bearer tokens (overrides server.jwt_secret)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "force", "log-level", "log-format", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(vendorCmd())
	rootCmd.AddCommand(questionCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(materialsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

// --- helpers ---

func openSession(ctx context.Context) (*app.Session, error) {
	s, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		ActorID:    viper.GetString("actor-id"),
	})
	if err != nil {
		return nil, err
	}
	s.Logger = newLogger(s)
	return s, nil
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// withDocument loads the document read-only.
func withDocument(ctx context.Context, fn func(*app.Session, *domain.Document) error) error {
	return withSession(ctx, func(ctx context.Context, s *app.Session) error {
		doc, err := s.Load()
		if err != nil {
			return err
		}
		return fn(s, doc)
	})
}

func mutate(ctx context.Context, fn func(engine.Engine, *domain.Document) error) error {
	return withSession(ctx, func(ctx context.Context, s *app.Session) error {
		return s.Mutate(ctx, fn)
	})
}

// newLogger prefers flags and env over the workspace config.
func newLogger(s *app.Session) *log.Logger {
	level, format := viper.GetString("log-level"), viper.GetString("log-format")
	if level == "" {
		level = s.Config.Log.Level
	}
	if format == "" {
		format = s.Config.Log.Format
	}
	return logging.New(os.Stderr, logging.Options{Level: level, Format: format, Prefix: "ht"})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrIndented(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printError(err error) {
	var invalid *store.InvalidDocumentError
	if errors.As(err, &invalid) {
		fmt.Fprintf(os.Stderr, "error: %s is invalid:\n", invalid.Path)
		for _, p := range invalid.Problems {
			fmt.Fprintln(os.Stderr, "  -", p)
		}
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
}

func optionalString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
