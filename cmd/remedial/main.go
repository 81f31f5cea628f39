package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/remedial/internal/events"
	"github.com/pavelanni/remedial/internal/handler"
	appI18n "github.com/pavelanni/remedial/internal/i18n"
	"github.com/pavelanni/remedial/internal/llm"
	"github.com/pavelanni/remedial/internal/mailer"
	"github.com/pavelanni/remedial/internal/registry"
	"github.com/pavelanni/remedial/internal/roster"
	"github.com/pavelanni/remedial/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "remedial",
		Short: "Bucket test scores and send students matching study materials",
	}

	serve := serveCmd()
	root.AddCommand(
		serve,
		assignCmd(),
		summaryCmd(),
		sendCmd(),
		importCmd(),
		queryCmd(),
		marksCmd(),
		hashPasswordCmd(),
	)
	return root
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addPipelineFlags(f *pflag.FlagSet) {
	f.StringP("roster", "r", "scores.csv", "Roster file (.csv or .xlsx)")
	f.String("registry", "registry.json", "Scoring rules registry (.json, .yaml)")
	cols := roster.DefaultColumns()
	f.String("name-col", cols.Name, "Roster column holding the student name")
	f.String("id-col", cols.ID, "Roster column holding the student id")
	f.String("contact-col", cols.Contact, "Roster column holding the contact address")
	f.String("total-col", cols.Total, "Roster column holding the total score")
}

func addDBFlags(f *pflag.FlagSet) {
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "remedial.db", "Database path or DSN")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
}

func addChannelFlags(f *pflag.FlagSet, defaultChannel string) {
	f.StringP("channel", "c", defaultChannel, "Delivery channel (smtp, sendgrid, console)")
	f.String("from", "", "Sender address")
	f.String("from-name", "", "Sender display name")
	f.String("smtp-host", "smtp.gmail.com", "SMTP server host")
	f.Int("smtp-port", 587, "SMTP server port")
	f.String("smtp-user", "", "SMTP username")
	f.String("smtp-password", "", "SMTP password (or set REMEDIAL_SMTP_PASSWORD)")
	f.String("smtp-tls", "mandatory", "SMTP TLS policy (mandatory, opportunistic, none)")
	f.String("sendgrid-key", "", "SendGrid API key (or set REMEDIAL_SENDGRID_KEY)")
	f.String("sendgrid-host", "https://api.sendgrid.com", "SendGrid API host")
	f.Duration("timeout", 30*time.Second, "Per-message delivery timeout")
	f.String("teacher", "", "Teacher name in the message signature")
	f.String("institution", "", "Institution name in the message signature")
}

func addEventFlags(f *pflag.FlagSet) {
	f.String("redis-url", "", "Redis URL for outcome events (empty disables)")
	f.String("redis-channel", "remedial.dispatch", "Redis pub/sub channel for outcome events")
	f.String("nats-url", "", "NATS URL for outcome events (empty disables)")
	f.String("nats-subject", "remedial.dispatch", "NATS subject for outcome events")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("registry", "registry.json", "Scoring rules registry (.json, .yaml)")
	f.StringP("lang", "l", appI18n.DefaultLang, "Message language (en, ru)")
	f.Bool("no-llm", false, "Disable the free-form score assistant")
	f.String("api-user", "", "Basic auth user for /api (empty disables auth)")
	f.String("api-password-hash", "", "bcrypt hash of the API password (see hash-password)")
	f.StringSlice("cors-origin", nil, "Allowed CORS origins (repeatable)")
	f.String("pdftotext", "pdftotext", "pdftotext binary used for PDF uploads")
	addDBFlags(f)
	addLLMFlags(f)
	addChannelFlags(f, "")
	addEventFlags(f)
	addLogFlags(f)
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

	v.SetEnvPrefix("REMEDIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("remedial")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/remedial")
	v.AddConfigPath("/etc/remedial")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(v *viper.Viper) (*store.Store, error) {
	driver, err := store.ParseDriver(v.GetString("db-driver"))
	if err != nil {
		return nil, err
	}
	db, err := store.New(driver, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func channelConfig(v *viper.Viper, out io.Writer) mailer.Config {
	return mailer.Config{
		Channel:  v.GetString("channel"),
		From:     v.GetString("from"),
		FromName: v.GetString("from-name"),
		SMTP: mailer.SMTPConfig{
			Host:     v.GetString("smtp-host"),
			Port:     v.GetInt("smtp-port"),
			Username: v.GetString("smtp-user"),
			Password: v.GetString("smtp-password"),
			TLS:      v.GetString("smtp-tls"),
		},
		SendGridKey:  v.GetString("sendgrid-key"),
		SendGridHost: v.GetString("sendgrid-host"),
		Output:       out,
	}
}

func eventsConfig(v *viper.Viper) events.Config {
	return events.Config{
		RedisURL:     v.GetString("redis-url"),
		RedisChannel: v.GetString("redis-channel"),
		NATSURL:      v.GetString("nats-url"),
		NATSSubject:  v.GetString("nats-subject"),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.LoadFile(v.GetString("registry"))
	if err != nil {
		return err
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var llmClient *llm.Client
	if !v.GetBool("no-llm") {
		llmClient = llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
		if err := llmClient.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", llmClient.Model())
	}

	cfg := handler.Config{
		Lang:            lang,
		APIUser:         v.GetString("api-user"),
		APIPasswordHash: v.GetString("api-password-hash"),
		CORSOrigins:     v.GetStringSlice("cors-origin"),
		Dispatch:        dispatchOptions(v, lang),
	}
	cfg.Extractor.PDFToText = v.GetString("pdftotext")
	if cfg.APIUser != "" && cfg.APIPasswordHash == "" {
		return errors.New("api-password-hash is required when api-user is set")
	}
	if v.GetString("channel") != "" {
		ch, err := mailer.New(channelConfig(v, os.Stdout))
		if err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
		cfg.Channel = ch
	}
	pub, err := events.Connect(ctx, eventsConfig(v))
	if err != nil {
		return fmt.Errorf("connect event brokers: %w", err)
	}
	defer pub.Close()
	cfg.Events = pub

	h, err := handler.New(db, reg, llmClient, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"registry", v.GetString("registry"),
			"questions", reg.Len(),
			"db_driver", db.Driver(),
			"lang", lang,
			"channel", v.GetString("channel"),
			"llm", llmClient != nil,
			"auth", cfg.APIUser != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
