// Package app wires up and runs the application services.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/creepmon/internal/clock"
	"github.com/skobkin/creepmon/internal/config"
	"github.com/skobkin/creepmon/internal/credential"
	"github.com/skobkin/creepmon/internal/httpserver"
	"github.com/skobkin/creepmon/internal/journal"
	"github.com/skobkin/creepmon/internal/sampler"
	"github.com/skobkin/creepmon/internal/version"
)

const shutdownTimeout = 10 * time.Second

// Client bundles the sensor reader with the credentials it authenticates with.
type Client struct {
	Reader    *sampler.Reader
	Refresher *credential.Refresher
	State     *credential.State
}

// NewClient builds the cookie source, refresher and sensor reader from cfg.
func NewClient(cfg config.Config, baseLogger *slog.Logger) (*Client, error) {
	source, err := newCookieSource(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	refresher, err := credential.NewRefresher(source, cfg.Credentials.Domain, cfg.Credentials.TokenCookie, baseLogger)
	if err != nil {
		return nil, fmt.Errorf("init credential refresher: %w", err)
	}
	state := credential.NewState(cfg.Credentials.SessionKey)

	reader, err := sampler.NewReader(sampler.ReaderConfig{
		Endpoint: cfg.API.URL,
		Form: sampler.FormParams{
			ContextID: cfg.API.ContextID,
			CaptureID: cfg.API.CaptureID,
			Service:   cfg.API.Service,
			Action:    cfg.API.Action,
		},
		OriginalLengthMM: cfg.OriginalLengthMM,
		ExperimentStart:  cfg.ExperimentStart,
		DisplayZone:      cfg.DisplayZone(),
		Timeout:          cfg.RequestTimeout,
	},
		sampler.NewHTTPTransport(cfg.RequestTimeout, cfg.API.UserAgent),
		refresher,
		state,
		clock.Real(),
		baseLogger.With("component", "sampler_reader"),
	)
	if err != nil {
		return nil, fmt.Errorf("init sensor reader: %w", err)
	}

	return &Client{Reader: reader, Refresher: refresher, State: state}, nil
}

// Prime loads cookies once before the first request and reports what it found.
func (c *Client) Prime(ctx context.Context, logger *slog.Logger) credential.Result {
	result := c.Refresher.Refresh(ctx, c.State)
	logger.Info("loaded cookies",
		"domain", c.Refresher.Domain(),
		"matched", result.Matched,
		"count", c.State.Len(),
	)
	if c.State.Token == "" {
		logger.Warn("no session key available, requests will fail until one is found")
	}
	return result
}

func newCookieSource(cfg config.CredentialConfig) (credential.Source, error) {
	switch cfg.Source {
	case config.CookieSourceBrowser, "":
		return credential.NewBrowserSource(), nil
	case config.CookieSourceFile:
		if cfg.CookieFile == "" {
			return nil, fmt.Errorf("cookie file is required for the file cookie source")
		}
		return credential.NewFileSource(cfg.CookieFile), nil
	case config.CookieSourceNone:
		return credential.NopSource{}, nil
	default:
		return nil, fmt.Errorf("unknown cookie source %q", cfg.Source)
	}
}

// Run bootstraps the application lifecycle and blocks until the poll run
// finishes or ctx is cancelled.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	client, err := NewClient(cfg, baseLogger)
	if err != nil {
		return err
	}

	writer, err := journal.New(cfg.OutputFile, baseLogger)
	if err != nil {
		return fmt.Errorf("init journal: %w", err)
	}
	if err := writer.EnsureInitialized(); err != nil {
		return fmt.Errorf("init journal: %w", err)
	}

	runID := uuid.NewString()
	manager, err := sampler.NewManager(sampler.Options{
		Duration:      cfg.RunDuration,
		Interval:      cfg.PollInterval,
		ProgressEvery: cfg.ProgressEvery,
		OutputPath:    writer.Path(),
		RunID:         runID,
	}, client.Reader, writer, clock.Real(), baseLogger)
	if err != nil {
		return fmt.Errorf("init poll manager: %w", err)
	}

	appLogger.Info("creepmon starting",
		"version", version.Current().Version,
		"run_id", runID,
		"api_url", cfg.API.URL,
		"experiment_start", cfg.ExperimentStart,
		"original_length_mm", cfg.OriginalLengthMM,
		"output", writer.Path(),
	)

	client.Prime(ctx, appLogger)

	var (
		srv     *httpserver.Server
		srvDone chan struct{}
	)
	if cfg.Status.Enable {
		srv = httpserver.New(cfg.Status, baseLogger.With("component", "http"), manager)
		srvDone = make(chan struct{})
		appLogger.Info("starting status server", "listen_addr", cfg.Status.ListenAddr)
		go func() {
			defer close(srvDone)
			// A failed listener never stops the poll run.
			if err := srv.Start(); err != nil {
				appLogger.Error("status server failed", "err", err)
			}
		}()
	}

	report := manager.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("status server shutdown", "err", err)
		}
		<-srvDone
	}

	appLogger.Info("creepmon stopped",
		"state", report.State,
		"cycles", report.Cycles,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Second),
		"output", report.Output,
	)

	if report.Err != nil {
		return fmt.Errorf("poll run: %w", report.Err)
	}
	return nil
}
