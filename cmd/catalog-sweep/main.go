package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aluiziolira/go-catalog-sweep/config"
	"github.com/aluiziolira/go-catalog-sweep/runner"
	"github.com/aluiziolira/go-catalog-sweep/scraper"
	"github.com/aluiziolira/go-catalog-sweep/signer"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := ".env"
	if value, ok := config.EnvString("CATALOG_ENV_FILE"); ok {
		envFile = value
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return 1
	}
	bindFlags(flag.CommandLine, cfg)
	flag.Parse()
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	logger, level, closeLog := newLogger(cfg.Verbose, cfg.LogFile)
	defer closeLog.Close()
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}
	if err := cfg.ValidateCredentials(); err != nil {
		slog.Error("invalid credentials", slog.Any("error", err))
		return 1
	}

	metrics := scraper.NewMetrics()
	controller, err := newController(cfg, metrics)
	if err != nil {
		slog.Error("initialising sweep", slog.Any("error", err))
		return 1
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go watchSignals(signals, cancel)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	slog.Info("starting sweep",
		slog.String("base_url", cfg.BaseURL),
		slog.String("input_dir", cfg.InputDir),
		slog.String("output_dir", cfg.OutputDir),
		slog.Int("page_size", cfg.PageSize),
	)

	code := controller.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancelShutdown()
	}
	return code
}

// newController wires the signer, fetcher and controller. The private key is
// loaded by the controller's preflight, so a bad key still ends in a run log.
func newController(cfg *config.Config, metrics *scraper.Metrics) (*runner.Controller, error) {
	keys := &signer.KeyFileSigner{
		ConsumerID: cfg.ConsumerID,
		KeyVersion: cfg.KeyVersion,
		KeyPath:    cfg.PrivateKeyPath,
	}
	fetcher, err := scraper.NewFetcher(cfg, keys, metrics)
	if err != nil {
		return nil, err
	}
	return runner.New(cfg, fetcher, metrics).WithPreflight(keys.Check), nil
}

// watchSignals cancels the run with a cause naming the first signal received.
// Later signals change nothing.
func watchSignals(signals <-chan os.Signal, cancel context.CancelCauseFunc) {
	for sig := range signals {
		cause := runner.ErrInterrupted
		if sig == syscall.SIGTERM {
			cause = runner.ErrTerminated
		}
		slog.Warn("signal received, finalizing", slog.String("signal", sig.String()))
		cancel(cause)
	}
}

func bindFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Paginated items endpoint")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Items requested per page")
	fs.DurationVar(&cfg.PageDelay, "page-delay", cfg.PageDelay, "Delay between pages of one category")
	fs.DurationVar(&cfg.CategoryDelay, "category-delay", cfg.CategoryDelay, "Delay before each category")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request transport timeout")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Attempts per request on 429/5xx")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Initial retry backoff")
	fs.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "Maximum retry backoff")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header")
	fs.StringVar(&cfg.ConsumerID, "consumer-id", cfg.ConsumerID, "API consumer id")
	fs.StringVar(&cfg.KeyVersion, "key-version", cfg.KeyVersion, "Signing key version")
	fs.StringVar(&cfg.PrivateKeyPath, "private-key", cfg.PrivateKeyPath, "Path to the RSA private key (PEM or base64 DER)")
	fs.StringVar(&cfg.InputDir, "input", cfg.InputDir, "Directory of subtree CSV files")
	fs.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "Output directory")
	fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv or dual")
	fs.BoolVar(&cfg.SkipParents, "skip-parents", cfg.SkipParents, "Skip categories that have descendants")
	fs.BoolVar(&cfg.DedupCategory, "dedup-category", cfg.DedupCategory, "Deduplicate items within a category file")
	fs.BoolVar(&cfg.DedupSubtree, "dedup-subtree", cfg.DedupSubtree, "Deduplicate items within a subtree aggregate")
	fs.BoolVar(&cfg.DedupMaster, "dedup-master", cfg.DedupMaster, "Deduplicate items in the master file")
	fs.IntVar(&cfg.DedupeMaxSize, "dedupe-max-size", cfg.DedupeMaxSize, "Item ids remembered per dedup tier")
	fs.IntVar(&cfg.MaxFilenameLength, "max-filename-length", cfg.MaxFilenameLength, "Maximum length of each filename part")
	fs.IntVar(&cfg.BodySnippetLimit, "body-limit", cfg.BodySnippetLimit, "Bytes of error bodies kept in the run log")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this rotating file")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newLogger(verbose bool, logFile string) (*slog.Logger, *slog.LevelVar, io.Closer) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) && logFile == "" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), level, closer
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
