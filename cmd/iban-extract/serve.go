package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/iban-extractor/internal/extraction"
)

func serveCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port      = fs.IntLong("port", 8080, "HTTP server port")
		jwtSecret = fs.StringLong("jwt-secret", "", "HS256 secret for reviewer tokens (optional, disables auth when empty)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "iban-extract serve [--port 8080] [--jwt-secret <secret>] [FLAGS]",
		ShortHelp: "run the review API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := setupLogging(cfg.logLevel, os.Stderr); err != nil {
				return err
			}

			d, err := openDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			server := extraction.NewServer(d.service, []byte(*jwtSecret))
			if *jwtSecret == "" {
				slog.Warn("JWT secret not set, review API is unauthenticated")
			}

			addr := fmt.Sprintf(":%d", *port)
			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
			if err := server.Start(ctx, addr); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

func tokenCommand(parent *ff.FlagSet, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("token").SetParent(parent)
	var (
		jwtSecret = fs.StringLong("jwt-secret", "", "HS256 secret shared with the server (required)")
		subject   = fs.StringLong("subject", "", "Reviewer name recorded on reviews (required)")
		ttl       = fs.DurationLong("ttl", 24*time.Hour, "Token lifetime")
	)

	return &ff.Command{
		Name:      "token",
		Usage:     "iban-extract token --jwt-secret <secret> --subject <reviewer>",
		ShortHelp: "issue a reviewer token for the review API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			token, err := extraction.NewReviewerToken([]byte(*jwtSecret), *subject, time.Now(), *ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, token)
			return nil
		},
	}
}
