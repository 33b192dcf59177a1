package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/monateaches/assessment/internal/assessment"
	"github.com/monateaches/assessment/internal/gateway"
	"github.com/monateaches/assessment/internal/handler"
	appI18n "github.com/monateaches/assessment/internal/i18n"
	"github.com/monateaches/assessment/internal/llm"
	"github.com/monateaches/assessment/internal/llm/prompts"
	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/questionbank"
	"github.com/monateaches/assessment/internal/report"
	"github.com/monateaches/assessment/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: could not load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assessment",
		Short: "Timed multiple-question assessment service",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), checkQuestionsCmd(), setAdminPasswordCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `assessment --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", "", "Database driver (sqlite, postgres); inferred from --db when empty")
	f.String("db", "assessment.db", "SQLite path or Postgres DSN (or set NETLIFY_DATABASE_URL)")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addQuestionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("questions", "q", "questions.json", "Question bank file or http(s) URL (JSON or YAML)")
	f.StringP("topic", "t", "", "Only use questions with this topic")
	f.IntP("num-questions", "n", 0, "Number of questions per assessment (0 = all available)")
	f.Bool("shuffle", false, "Randomize question order per session")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP assessment server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStoreFlags(cmd)
	addQuestionFlags(cmd)
	f.Duration("time-limit", assessment.DefaultTimeLimit, "Time allowed per assessment")
	f.Duration("session-ttl", 2*time.Hour, "Drop sessions older than this")
	f.String("key-stage", gateway.DefaultKeyStage, "Key stage attached to reports when the respondent gives none")
	f.String("tier-policy", "percentage", "Outcome tier policy (percentage, count)")
	f.String("verify-mode", "static", "Bot verification (turnstile, static, off)")
	f.String("turnstile-secret", "", "Cloudflare Turnstile secret key")
	f.String("verify-gate", "start", "Actions that require verification (start, submit, both)")
	f.String("submit-url", "", "Remote save-submission endpoint; results are stored locally when empty")
	f.String("notify-url", "", "Remote send-email endpoint; SMTP or log delivery when empty")
	f.String("smtp-host", "", "SMTP server host")
	f.Int("smtp-port", 587, "SMTP server port")
	f.String("smtp-username", "", "SMTP username")
	f.String("smtp-password", "", "SMTP password")
	f.String("mail-from", "", "Sender address of results emails")
	f.Duration("gateway-timeout", gateway.DefaultTimeout, "Timeout for verification, persistence and email calls")
	f.String("admin-password", "", "Admin password (or set FRONTEND_PASSWORD)")
	f.String("jwt-secret", "", "Secret for admin bearer tokens; random per process when empty")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	f.StringP("lang", "l", "en", "Default language of status messages")
	f.String("llm-url", "", "OpenAI-compatible API base URL; commentary is disabled when empty")
	f.String("llm-key", "", "API key for LLM")
	f.String("llm-model", "gpt-4o-mini", "LLM model name")
	f.String("llm-variant", string(prompts.PromptEncouraging), "Commentary prompt variant (encouraging, neutral, brief)")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all submissions as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func checkQuestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-questions",
		Short: "Validate a question bank and print a summary",
		RunE:  runCheckQuestions,
	}
	addQuestionFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func setAdminPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-admin-password",
		Short: "Set the password of the admin account",
		RunE:  runSetAdminPassword,
	}
	addStoreFlags(cmd)
	cmd.Flags().String("admin-password", "", "New admin password (or set FRONTEND_PASSWORD)")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ASSESSMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Names used by the hosted deployment.
	_ = v.BindEnv("db", "ASSESSMENT_DB", "NETLIFY_DATABASE_URL")
	_ = v.BindEnv("admin-password", "ASSESSMENT_ADMIN_PASSWORD", "FRONTEND_PASSWORD")
	_ = v.BindEnv("turnstile-secret", "ASSESSMENT_TURNSTILE_SECRET", "TURNSTILE_SECRET_KEY")

	v.SetConfigName("assessment")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assessment")
	v.AddConfigPath("/etc/assessment")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	dsn := v.GetString("db")
	name := v.GetString("db-driver")
	if name == "" && (strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")) {
		name = string(store.DriverPostgres)
	}
	driver, err := store.ParseDriver(name)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	slog.Debug("database opened", "driver", driver)
	return db, nil
}

func questionLoader(v *viper.Viper, httpClient *http.Client) *questionbank.Loader {
	return &questionbank.Loader{
		Source:  v.GetString("questions"),
		Shuffle: v.GetBool("shuffle"),
		Limit:   v.GetInt("num-questions"),
		Topic:   v.GetString("topic"),
		Client:  httpClient,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	assessCfg := model.AssessmentConfig{
		TimeLimit:      v.GetDuration("time-limit"),
		NumQuestions:   v.GetInt("num-questions"),
		Topic:          v.GetString("topic"),
		Shuffle:        v.GetBool("shuffle"),
		KeyStage:       v.GetString("key-stage"),
		TierPolicy:     v.GetString("tier-policy"),
		VerifyGate:     v.GetString("verify-gate"),
		GatewayTimeout: v.GetDuration("gateway-timeout"),
	}

	policy, err := report.PolicyByName(assessCfg.TierPolicy)
	if err != nil {
		return err
	}
	gate, err := gateway.ParseGate(assessCfg.VerifyGate)
	if err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: assessCfg.GatewayTimeout}

	loader := questionLoader(v, httpClient)
	// Fail fast on a broken bank; sessions reload it on every start.
	bank, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	slog.Info("question bank OK", "source", loader.Source, "questions", bank.Len())

	verifier, err := newVerifier(v, httpClient)
	if err != nil {
		return err
	}

	sessCfg := assessment.Config{
		Loader:         loader,
		Verifier:       verifier,
		Submitter:      newSubmitter(v, db, httpClient),
		Notifier:       newNotifier(v, httpClient),
		Policy:         policy,
		Gate:           gate,
		TimeLimit:      assessCfg.TimeLimit,
		GatewayTimeout: assessCfg.GatewayTimeout,
		KeyStage:       assessCfg.KeyStage,
	}
	if url := v.GetString("llm-url"); url != "" {
		variant := strings.ToLower(strings.TrimSpace(v.GetString("llm-variant")))
		if !prompts.IsValidVariant(variant) {
			slog.Warn("invalid llm-variant, using encouraging", "variant", variant)
			variant = string(prompts.PromptEncouraging)
		}
		llmClient, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), prompts.PromptVariant(variant))
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		sessCfg.Commentator = llmClient
		slog.Info("commentary enabled", "url", url, "model", v.GetString("llm-model"), "variant", variant)
	}
	sessions := assessment.NewManager(sessCfg)

	secret := v.GetString("jwt-secret")
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			return err
		}
		slog.Warn("no jwt-secret configured; admin tokens will not survive a restart")
	}
	auth, err := handler.NewAuthService(secret)
	if err != nil {
		return err
	}

	h, err := handler.New(handler.Deps{
		Sessions: sessions,
		Store:    db,
		Verifier: verifier,
		Notifier: sessCfg.Notifier,
		Auth:     auth,
		Config:   assessCfg,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(assessCfg.GatewayTimeout + 10*time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Length"},
		MaxAge:         300,
	}))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	go sessions.RunReaper(ctx, time.Minute, v.GetDuration("session-ttl"))

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"questions", loader.Source,
		"num_questions", assessCfg.NumQuestions,
		"topic", assessCfg.Topic,
		"shuffle", assessCfg.Shuffle,
		"time_limit", assessCfg.TimeLimit,
		"tier_policy", policy.Name(),
		"verify_gate", gate,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	// Let in-flight persistence and email calls finish.
	sessions.Wait()
	return nil
}

func newVerifier(v *viper.Viper, client *http.Client) (gateway.Verifier, error) {
	switch mode := strings.ToLower(v.GetString("verify-mode")); mode {
	case "turnstile":
		secret := v.GetString("turnstile-secret")
		if secret == "" {
			return nil, errors.New("verify-mode turnstile requires --turnstile-secret")
		}
		return &gateway.TurnstileVerifier{Secret: secret, Client: client}, nil
	case "static", "":
		slog.Warn("using static verification; any non-empty token is accepted")
		return gateway.StaticVerifier{}, nil
	case "off":
		slog.Warn("bot verification disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown verify-mode %q (want turnstile, static or off)", mode)
	}
}

func newSubmitter(v *viper.Viper, db *store.Store, client *http.Client) gateway.Submitter {
	if url := v.GetString("submit-url"); url != "" {
		return &gateway.HTTPSubmitter{URL: url, Client: client}
	}
	return &gateway.StoreSubmitter{Store: db}
}

func newNotifier(v *viper.Viper, client *http.Client) gateway.Notifier {
	if url := v.GetString("notify-url"); url != "" {
		return &gateway.HTTPNotifier{URL: url, Client: client}
	}
	if host := v.GetString("smtp-host"); host != "" {
		return &gateway.MailNotifier{
			Host:     host,
			Port:     v.GetInt("smtp-port"),
			Username: v.GetString("smtp-username"),
			Password: v.GetString("smtp-password"),
			From:     v.GetString("mail-from"),
		}
	}
	slog.Warn("no email delivery configured; results emails are logged only")
	return gateway.LogNotifier{}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := db.ExportAllSubmissions()
	if err != nil {
		return fmt.Errorf("export submissions: %w", err)
	}

	export := model.SubmissionExport{
		ExportedAt:  time.Now().UTC(),
		Count:       len(results),
		Submissions: results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported submissions", "count", len(results), "output", outPath)
	return nil
}

func runCheckQuestions(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	loader := questionLoader(v, &http.Client{Timeout: gateway.DefaultTimeout})
	bank, err := loader.Load(cmd.Context())
	if err != nil {
		var le *questionbank.LoadError
		if errors.As(err, &le) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: no usable questions (%d dropped)\n", le.Source, le.Dropped)
		}
		return err
	}

	byKind := map[model.QuestionKind]int{}
	byTopic := map[string]int{}
	points := 0
	for _, q := range bank.Questions() {
		byKind[q.Kind]++
		byTopic[q.Topic]++
		points += q.MaxPoints()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d questions, %d points\n", loader.Source, bank.Len(), points)
	for _, k := range []model.QuestionKind{model.KindSingleChoice, model.KindFreeText, model.KindNumeric} {
		if byKind[k] > 0 {
			fmt.Fprintf(out, "  %-14s %d\n", k, byKind[k])
		}
	}
	topics := make([]string, 0, len(byTopic))
	for t := range byTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, t := range topics {
		name := t
		if name == "" {
			name = "(no topic)"
		}
		fmt.Fprintf(out, "  topic %-20s %d\n", name, byTopic[t])
	}
	return nil
}

func runSetAdminPassword(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	password := v.GetString("admin-password")
	if password == "" {
		return errors.New("admin password is required: set --admin-password flag or FRONTEND_PASSWORD env var")
	}

	db, err := openStore(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := db.SetPasswordHash(handler.AdminUsername, string(hash), model.UserRoleAdmin); err != nil {
		return fmt.Errorf("set admin password: %w", err)
	}
	slog.Info("admin password updated", "username", handler.AdminUsername)
	return nil
}

// seedAdmin creates or refreshes the admin account from the configured
// password. Without a password an existing account is left alone.
func seedAdmin(db *store.Store, password string) error {
	user, err := db.GetUserByUsername(handler.AdminUsername)
	if err != nil {
		return err
	}
	if password == "" {
		if user == nil {
			slog.Warn("no admin password configured; admin endpoints reject every request")
		}
		return nil
	}
	if user != nil && bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := db.SetPasswordHash(handler.AdminUsername, string(hash), model.UserRoleAdmin); err != nil {
		return fmt.Errorf("store admin password: %w", err)
	}
	slog.Info("seeded admin user", "username", handler.AdminUsername)
	return nil
}
