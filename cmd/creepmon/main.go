package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/skobkin/creepmon/internal/app"
	"github.com/skobkin/creepmon/internal/config"
	"github.com/skobkin/creepmon/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	var (
		configFile  string
		envFile     string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("creepmon", pflag.ContinueOnError)
	flagSet.StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	flagSet.StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file with APP_* settings")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if showVersion {
		fmt.Println("creepmon", version.Current())
		return
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
		slog.New(handler).Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
			slog.New(handler).Error("failed to open log file", "path", cfg.LogFile, "err", err)
			os.Exit(1)
		}
		defer logFile.Close()
		out = io.MultiWriter(os.Stderr, logFile)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, logger, cfg); err != nil {
		logger.Error("application error", "err", err)
		stop()
		os.Exit(1)
	}
}
