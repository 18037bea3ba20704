package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/zombor/iban-extractor/internal/extraction"
	"github.com/zombor/iban-extractor/internal/scanning"
	"github.com/zombor/iban-extractor/internal/triage"
)

// deps is everything a subcommand needs to process or review invoices
type deps struct {
	db      extraction.DB
	scanner scanning.Scanner
	service *extraction.Service
}

func (d *deps) Close() {
	if d.scanner != nil {
		d.scanner.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}

func openDB(ctx context.Context, cfg *rootConfig) (extraction.DB, error) {
	if cfg.databaseURL != "" {
		slog.Info("Initializing PostgreSQL database...")
		return extraction.NewPostgresDB(ctx, cfg.databaseURL)
	}
	slog.Info("Initializing database...", "path", cfg.dbPath)
	return extraction.NewBoltDB(cfg.dbPath)
}

func openStorage(ctx context.Context, cfg *rootConfig) (extraction.Storage, error) {
	if cfg.minioEndpoint != "" {
		slog.Info("Initializing MinIO storage...", "endpoint", cfg.minioEndpoint, "bucket", cfg.minioBucket)
		return extraction.NewMinioStorage(ctx, extraction.MinioConfig{
			Endpoint:     cfg.minioEndpoint,
			AccessKey:    cfg.minioAccessKey,
			SecretKey:    cfg.minioSecretKey,
			Bucket:       cfg.minioBucket,
			UseSSL:       cfg.minioSSL,
			CreateBucket: true,
		})
	}
	slog.Info("Initializing storage...", "path", cfg.storagePath)
	return extraction.NewLocalStorage(cfg.storagePath)
}

func openScanner(cfg *rootConfig) (scanning.Scanner, error) {
	switch cfg.scannerType {
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		return scanning.NewGemini(apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	case "openai":
		apiKey := cfg.openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key is required: set --openai-key or OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI scanner...", "url", cfg.openaiURL, "model", cfg.openaiModel)
		return scanning.NewOpenAI(apiKey, cfg.openaiURL, cfg.openaiModel)
	default:
		return nil, fmt.Errorf("invalid scanner type %q: use gemini, ollama or openai", cfg.scannerType)
	}
}

// openDeps wires the pipeline from the root flags
func openDeps(ctx context.Context, cfg *rootConfig) (*deps, error) {
	engine, err := triage.NewEngine(triage.Config{
		HighThreshold:  cfg.highThreshold,
		LowThreshold:   cfg.lowThreshold,
		DriftThreshold: cfg.driftThreshold,
	})
	if err != nil {
		return nil, err
	}

	var registry *extraction.VendorRegistry
	if cfg.registryPath != "" {
		registry, err = extraction.LoadVendorRegistry(cfg.registryPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded vendor registry", "path", cfg.registryPath, "vendors", len(registry.Vendors))
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	d := &deps{db: db}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	scanner, err := openScanner(cfg)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("initializing scanner: %w", err)
	}
	d.scanner = scanner

	patterns := extraction.NewPatternStore(d.db, extraction.DefaultIDGenerator(), extraction.DefaultTimeSource())
	oracle := extraction.NewScannerOracle(d.scanner, extraction.NewVendorResolver(registry), patterns)
	d.service = extraction.NewService(d.db, store, oracle, engine, patterns, extraction.Config{
		OracleTimeout:       cfg.oracleTimeout,
		StorageRetryBackoff: cfg.retryBackoff,
		MaxFileSize:         int64(cfg.maxFileSize),
	})
	return d, nil
}
