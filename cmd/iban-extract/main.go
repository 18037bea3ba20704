package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// rootConfig holds the flags shared by every subcommand
type rootConfig struct {
	logLevel string

	dbPath      string
	databaseURL string

	storagePath    string
	minioEndpoint  string
	minioAccessKey string
	minioSecretKey string
	minioBucket    string
	minioSSL       bool

	scannerType string
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
	openaiKey   string
	openaiURL   string
	openaiModel string

	registryPath   string
	highThreshold  float64
	lowThreshold   float64
	driftThreshold float64
	oracleTimeout  time.Duration
	retryBackoff   time.Duration
	maxFileSize    int
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cfg rootConfig

	rootFlags := ff.NewFlagSet("iban-extract")
	rootFlags.StringVar(&cfg.logLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	rootFlags.StringVar(&cfg.dbPath, 0, "db", "iban-extractor.db", "BoltDB file path (ignored when --database-url is set)")
	rootFlags.StringVar(&cfg.databaseURL, 0, "database-url", "", "PostgreSQL connection URL")
	rootFlags.StringVar(&cfg.storagePath, 0, "storage", "./invoices-archive", "Local archive directory (ignored when --minio-endpoint is set)")
	rootFlags.StringVar(&cfg.minioEndpoint, 0, "minio-endpoint", "", "MinIO/S3 endpoint for the invoice archive")
	rootFlags.StringVar(&cfg.minioAccessKey, 0, "minio-access-key", "", "MinIO access key")
	rootFlags.StringVar(&cfg.minioSecretKey, 0, "minio-secret-key", "", "MinIO secret key")
	rootFlags.StringVar(&cfg.minioBucket, 0, "minio-bucket", "invoices", "MinIO bucket")
	rootFlags.BoolVar(&cfg.minioSSL, 0, "minio-ssl", "Use TLS for MinIO")
	rootFlags.StringVar(&cfg.scannerType, 0, "scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'openai'")
	rootFlags.StringVar(&cfg.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	rootFlags.StringVar(&cfg.geminiModel, 0, "gemini-model", "gemini-2.5-pro", "Google Gemini model name")
	rootFlags.StringVar(&cfg.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	rootFlags.StringVar(&cfg.ollamaModel, 0, "ollama-model", "llava", "Ollama model name")
	rootFlags.StringVar(&cfg.openaiKey, 0, "openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	rootFlags.StringVar(&cfg.openaiURL, 0, "openai-url", "", "OpenAI-compatible base URL (default api.openai.com)")
	rootFlags.StringVar(&cfg.openaiModel, 0, "openai-model", "gpt-4o", "OpenAI model name")
	rootFlags.StringVar(&cfg.registryPath, 0, "registry", "", "Vendor registry YAML file (optional)")
	rootFlags.Float64Var(&cfg.highThreshold, 0, "high-threshold", 0.90, "Confidence at or above which a valid IBAN is auto-validated")
	rootFlags.Float64Var(&cfg.lowThreshold, 0, "low-threshold", 0.70, "Confidence below which an extraction is rejected")
	rootFlags.Float64Var(&cfg.driftThreshold, 0, "drift-threshold", 0.80, "Fraction of the pattern baseline below which drift is flagged")
	rootFlags.DurationVar(&cfg.oracleTimeout, 0, "oracle-timeout", 30*time.Second, "Timeout for each scanner call")
	rootFlags.DurationVar(&cfg.retryBackoff, 0, "retry-backoff", 250*time.Millisecond, "Wait before retrying a failed storage write")
	rootFlags.IntVar(&cfg.maxFileSize, 0, "max-file-size", 10<<20, "Largest accepted invoice in bytes")

	rootCmd := &ff.Command{
		Name:      "iban-extract",
		Usage:     "iban-extract [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "extract and validate vendor IBANs from invoices",
		Flags:     rootFlags,
		Subcommands: []*ff.Command{
			batchCommand(&cfg, rootFlags, stdout),
			serveCommand(&cfg, rootFlags),
			tokenCommand(rootFlags, stdout),
			versionCommand(rootFlags, stdout),
		},
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
	}

	err := rootCmd.ParseAndRun(ctx, args, ff.WithEnvVarPrefix("IBAN_EXTRACTOR"))
	switch {
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCmd.GetSelected()))
		return nil
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}
	return nil
}

// setupLogging installs the default slog handler at the requested level
func setupLogging(level string, w io.Writer) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})))
	return nil
}

func versionCommand(parent *ff.FlagSet, stdout io.Writer) *ff.Command {
	return &ff.Command{
		Name:      "version",
		ShortHelp: "print the version",
		Flags:     ff.NewFlagSet("version").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			fmt.Fprintln(stdout, version)
			return nil
		},
	}
}
