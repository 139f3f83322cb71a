package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"termbatch/internal/batch"
	"termbatch/internal/common"
	"termbatch/internal/export"
	processor "termbatch/internal/pipeline"
	"termbatch/internal/repair"
	"termbatch/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// logListener surfaces remote job progress on the structured log.
type logListener struct {
	log *slog.Logger
}

func (l logListener) OnStatus(line string) { l.log.Info("batch.status", "detail", line) }
func (l logListener) OnProgress(p float64) { l.log.Info("batch.progress", "progress", p) }
func (l logListener) OnComplete()          { l.log.Info("batch.complete") }

func main() {
	var (
		input   = flag.String("input", "", "source CSV or XLSX file (required)")
		out     = flag.String("out", "", "output file path (defaults next to the input)")
		ledger  = flag.String("ledger", "", "sqlite ledger path (defaults to <output dir>/termbatch.db)")
		envFile = flag.String("env", "", "optional .env file to load")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *input == "" {
		printError("Error: --input is required\n")
		flag.Usage()
		os.Exit(1)
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			printError("Error: load env file %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		// Best effort: a .env in the working directory is optional.
		_ = godotenv.Load()
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		printError("Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if *out == "" {
		base := strings.TrimSuffix(filepath.Base(*input), filepath.Ext(*input))
		*out = filepath.Join(cfg.Batch.OutputDir, base+"_terms.xlsx")
	}
	ledgerPath := *ledger
	if ledgerPath == "" {
		ledgerPath = cfg.Ledger.Path
	}
	if ledgerPath == "" {
		ledgerPath = filepath.Join(cfg.Batch.OutputDir, "termbatch.db")
	}
	if err := os.MkdirAll(filepath.Dir(ledgerPath), 0o755); err != nil {
		printError("Error: create output directory: %v\n", err)
		os.Exit(1)
	}

	// Ctrl-C cancels the run cooperatively; partial records still export.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, ledgerPath, logger)
	if err != nil {
		printError("Error: open ledger: %v\n", err)
		os.Exit(1)
	}
	defer repository.Close(db, logger)

	listener := logListener{log: logger}
	client := batch.NewClient(batch.Config{
		BaseURL:           cfg.API.BaseURL,
		APIKey:            cfg.API.APIKey,
		Endpoint:          cfg.API.Endpoint,
		CompletionWindow:  cfg.Batch.CompletionWindow,
		FastPollInterval:  cfg.Batch.FastPollInterval,
		SlowPollInterval:  cfg.Batch.SlowPollInterval,
		FastPollCount:     cfg.Batch.FastPollCount,
		EstimatedDuration: cfg.Batch.EstimatedDuration,
		MaxPollDuration:   cfg.Batch.MaxPollDuration,
		HTTPTimeout:       cfg.API.Timeout,
	}, logger, batch.WithListener(listener))

	builder := batch.NewBuilder(batch.BuilderConfig{
		Model:       cfg.API.Model,
		Endpoint:    cfg.API.Endpoint,
		Temperature: cfg.API.Temperature,
		MaxTokens:   cfg.API.MaxTokens,
	}, nil, logger)

	proc := processor.NewProcessor(
		logger,
		builder,
		client,
		repair.NewEngine(logger),
		repository.NewJobRepository(db, logger),
		export.NewService(logger),
		cfg.Batch.OutputDir,
	)
	proc.Listener = listener

	jobID := uuid.NewString()
	result, err := proc.Run(ctx, jobID, *input, *out)
	if err != nil {
		logger.Error("run.failed", "job_id", jobID, "error", err)
		if errors.Is(err, batch.ErrCancelled) || errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}

	logger.Info("run.done",
		"job_id", result.JobID,
		"outcome", string(result.Outcome),
		"rows", result.Rows,
		"records", result.Records,
		"export_path", result.ExportPath,
	)
	if result.ExportPath != "" {
		fmt.Println(result.ExportPath)
	}
}
