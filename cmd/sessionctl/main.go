// Command sessionctl inspects and repairs assessment sessions directly
// against the session store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/export"
	"github.com/stemsi/psytest-backend/internal/generation"
	"github.com/stemsi/psytest-backend/internal/llm"
	"github.com/stemsi/psytest-backend/internal/lock"
	"github.com/stemsi/psytest-backend/internal/logger"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/proctoring"
	"github.com/stemsi/psytest-backend/internal/report"
	"github.com/stemsi/psytest-backend/internal/scoring"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect and repair assessment sessions",
		SilenceUsage:  true,
	}

	f := root.PersistentFlags()
	f.String("store", "", "Session store driver (postgres, sqlite)")
	f.String("database-url", "", "PostgreSQL connection URL")
	f.String("sqlite-path", "", "SQLite database path")
	f.String("generator", "", "Content source for resume and report (bank, llm)")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "pretty", "Log format (pretty, json)")

	root.AddCommand(listCmd(), statusCmd(), reportCmd(), exportCmd(), violationsCmd(), resumeCmd())
	return root
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions by status",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().StringSlice("status", []string{"generating", "partial_ready", "ready", "in_progress"}, "Statuses to include")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Print a session's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Print the report of a completed session, generating it if needed",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}
	cmd.Flags().Bool("force", false, "Regenerate even if a report is stored")
	cmd.Flags().Duration("timeout", 2*time.Minute, "Synthesis timeout")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write the answers workbook of a completed session",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	cmd.Flags().StringP("output", "o", "", "Output file path (default assessment-<id>.xlsx, - for stdout)")
	return cmd
}

func violationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "violations <session-id>",
		Short: "List proctoring violations of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  runViolations,
	}
	cmd.Flags().Bool("stats", false, "Print only the tally")
	return cmd
}

func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Finish generation for sessions left unfinished",
		Args:  cobra.NoArgs,
		RunE:  runResume,
	}
	cmd.Flags().Duration("timeout", 10*time.Minute, "Give up after this long")
	return cmd
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SESSIONCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("sessionctl")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/psytest")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: reading config file: %v\n", err)
		}
	}
	return v
}

// loadConfig starts from the server environment and applies flag, env and
// config file overrides on top.
func loadConfig(v *viper.Viper) *config.Config {
	cfg := config.Load()
	if s := v.GetString("store"); s != "" {
		cfg.StoreDriver = s
	}
	if s := v.GetString("database-url"); s != "" {
		cfg.DatabaseURL = s
	}
	if s := v.GetString("sqlite-path"); s != "" {
		cfg.SQLitePath = s
	}
	if s := v.GetString("generator"); s != "" {
		cfg.GeneratorDriver = s
	}
	cfg.MaxDBConns = 4
	return cfg
}

func setup(cmd *cobra.Command) (*viper.Viper, *config.Config, zerolog.Logger) {
	v := viperForCmd(cmd)
	cfg := loadConfig(v)
	log := logger.New(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
	return v, cfg, log
}

func runList(cmd *cobra.Command, _ []string) error {
	v, cfg, log := setup(cmd)
	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	var statuses []model.Status
	for _, raw := range v.GetStringSlice("status") {
		st, err := model.ParseStatus(raw)
		if err != nil {
			return err
		}
		statuses = append(statuses, st)
	}
	sessions, err := b.store.ListByStatus(ctx, statuses...)
	if err != nil {
		return err
	}

	type row struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	}
	rows := make([]row, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, row{ID: s.ID, UserID: s.UserID, Status: s.Status.WireName(), CreatedAt: s.CreatedAt})
	}
	return printYAML(cmd.OutOrStdout(), rows)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, log := setup(cmd)
	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	s, err := b.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	out := map[string]interface{}{
		"session_id": s.ID,
		"user_id":    s.UserID,
		"status":     s.Status.WireName(),
		"readiness":  s.Readiness(),
		"questions":  len(s.Questions),
		"answers":    len(s.Answers),
		"has_report": s.Report != nil,
		"version":    s.Version,
		"updated_at": s.UpdatedAt,
	}
	if s.GenerationError != "" {
		out["generation_error"] = s.GenerationError
	}
	if s.Results != nil {
		out["results"] = s.Results
	}
	return printYAML(cmd.OutOrStdout(), out)
}

func runReport(cmd *cobra.Command, args []string) error {
	v, cfg, log := setup(cmd)
	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	norm := scoring.Norm{Mean: cfg.ReportNormMean, StdDev: cfg.ReportNormStdDev}
	var synth report.Synthesizer = report.NewTemplateSynthesizer(norm)
	if cfg.GeneratorDriver == "llm" {
		synth = llm.NewReportSynthesizer(llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel), norm)
	}
	cache := report.NewCache(b.store, synth, lock.NewLocalLocker(), v.GetDuration("timeout"), log)

	rep, err := cache.GetOrGenerate(ctx, args[0], v.GetBool("force"))
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), rep)
}

func runExport(cmd *cobra.Command, args []string) error {
	v, cfg, log := setup(cmd)
	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	s, err := b.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if s.Status != model.StatusCompleted {
		return fmt.Errorf("session %s is %s, export needs a completed session", s.ID, s.Status.WireName())
	}

	output := v.GetString("output")
	if output == "" {
		output = export.Filename(s.ID)
	}
	if output == "-" {
		return export.WriteAnswers(cmd.OutOrStdout(), s)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := export.WriteAnswers(f, s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
	return nil
}

func runViolations(cmd *cobra.Command, args []string) error {
	v, cfg, log := setup(cmd)
	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	if _, err := b.store.Get(ctx, args[0]); err != nil {
		return err
	}
	ledger := proctoring.NewLedger(b.violations, nil, nil, log)
	if v.GetBool("stats") {
		stats, err := ledger.Stats(ctx, args[0])
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), stats)
	}
	vs, err := ledger.List(ctx, args[0])
	if err != nil {
		return err
	}
	if vs == nil {
		vs = []model.ProctoringViolation{}
	}
	return printYAML(cmd.OutOrStdout(), vs)
}

func runResume(cmd *cobra.Command, _ []string) error {
	v, cfg, log := setup(cmd)
	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	var gen generation.ContentGenerator
	if cfg.GeneratorDriver == "llm" {
		gen = llm.NewQuestionGenerator(llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel), cfg.QuestionsPerSection)
	} else {
		bank, err := generation.NewBankGenerator(cfg.QuestionsPerSection)
		if err != nil {
			return err
		}
		gen = bank
	}

	coord := generation.NewCoordinator(b.store, gen, generation.Config{
		MaxAttempts:    cfg.GenerationMaxAttempts,
		AttemptTimeout: cfg.GenerationAttemptTimeout,
		RetryBackoff:   cfg.GenerationRetryBackoff,
		MaxConcurrency: cfg.GenerationMaxConcurrency,
	}, log)
	n, err := coord.Resume(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_ = coord.Shutdown(context.Background())
		return fmt.Errorf("resume interrupted: %w", ctx.Err())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resumed %d session(s)\n", n)
	return nil
}

// printYAML renders v through its JSON shape so output keys match the API.
func printYAML(w io.Writer, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
