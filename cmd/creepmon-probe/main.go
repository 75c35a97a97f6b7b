package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/skobkin/creepmon/internal/app"
	"github.com/skobkin/creepmon/internal/config"
	"github.com/skobkin/creepmon/internal/credential"
)

type options struct {
	configFile  string
	envFile     string
	showCookies bool
	jsonOutput  bool
}

func parseFlags() (options, bool) {
	var opts options
	flagSet := pflag.NewFlagSet("creepmon-probe", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flagSet.StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "dotenv file with APP_* settings")
	flagSet.BoolVar(&opts.showCookies, "cookies", false, "list matching cookies with masked values")
	flagSet.BoolVar(&opts.jsonOutput, "json", false, "emit the sample as JSON")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err != pflag.ErrHelp {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
		return opts, false
	}
	return opts, true
}

func main() {
	opts, ok := parseFlags()
	if !ok {
		return
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: opts.configFile, EnvFile: opts.envFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := app.NewClient(cfg, logger)
	if err != nil {
		logger.Error("init client", "err", err)
		os.Exit(1)
	}
	client.Prime(ctx, logger.With("component", "probe"))

	if opts.showCookies {
		endpoint := client.Reader.Endpoint()
		fmt.Printf("Cookies for %s (filter %s):\n", endpoint.Host, client.Refresher.Domain())
		for _, c := range client.State.HTTPCookies(endpoint) {
			fmt.Printf("- %s = %s (%s%s)\n", c.Name, credential.Mask(c.Value), c.Domain, c.Path)
		}
		fmt.Printf("Session key: %s\n\n", credential.Mask(client.State.Token))
	}

	sample := client.Reader.Sample(ctx)

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sample); err != nil {
			logger.Error("encode sample", "err", err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("Sample at %s\n", sample.Timestamp.Format(time.RFC3339))
		fmt.Println(strings.Repeat("-", 40))
		fmt.Printf("Date:                  %s\n", sample.Date)
		fmt.Printf("Elapsed time (s):      %d\n", sample.ElapsedSeconds)
		fmt.Printf("Change in length (mm): %.3f\n", sample.ChangeInLengthMM)
		fmt.Printf("Strain (%%):            %.3f\n", sample.StrainPercent)
		fmt.Printf("Temperature (C):       %.2f\n", sample.TemperatureC)
		fmt.Printf("Running:               %t\n", sample.Running)
		fmt.Printf("Status:                %s\n", sample.StatusCode)
	}

	if !sample.OK() {
		stop()
		os.Exit(1)
	}
}
