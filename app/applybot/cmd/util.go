package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/go-github/v72/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/cchalm/applybot/internal/telemetry"
	"github.com/cchalm/applybot/internal/transport"
)

func setupContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Setup graceful shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		logger.Info("interrupt signal detected, shutting down gracefully...")
		cancel()
		<-interrupt
		logger.Fatal("forcing shutdown")
	}()

	return ctx
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	// stdout carries command output
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func createGithubClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(&http.Client{Transport: transport.WithRetryAfter(nil, logger)})
	}
	tokenSource := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(ctx, tokenSource)
	httpClient.Transport = transport.WithRetryAfter(httpClient.Transport, logger)
	return github.NewClient(httpClient)
}

func createAnthropicClient(apiKey string) anthropic.Client {
	retryingHTTPClient := &http.Client{
		Transport: transport.WithRetryAfter(nil, logger),
	}
	return anthropic.NewClient(
		option.WithHTTPClient(retryingHTTPClient),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(5),
	)
}

func createTelemetryProvider(ctx context.Context) (*telemetry.Provider, error) {
	return telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        config.TelemetryEnabled,
		Endpoint:       config.OTLPEndpoint,
		ServiceVersion: versionInfo.version,
	}, logger)
}

func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read response file: %w", err)
	}
	return string(b), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
