// Command flume runs workflow documents from the terminal.
//
// It loads a JSON workflow, drives it with the built-in node classes, and
// answers input requests from stdin. Runs are journaled through the
// configured storage backend, so a suspended or interrupted run can be
// resumed (or forked) later:
//
//	flume run order_flow.json
//	flume resume order_flow 20240214_093012_4c2a9f31
//	flume resume --step 2 --fork order_flow 20240214_093012_4c2a9f31
//	flume list
//	flume list order_flow
//
// Configuration comes from flume.toml (override with FLUME_CONFIG) and
// FLUME_* env vars.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/flume"
	"github.com/nevindra/flume/internal/config"
	"github.com/nevindra/flume/observer"
	"github.com/nevindra/flume/store/memory"
	"github.com/nevindra/flume/store/postgres"
	"github.com/nevindra/flume/store/sqlite"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("flume: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// 1. Load config and logger
	cfg := config.Load(os.Getenv("FLUME_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Observability (optional)
	var tracer flume.Tracer
	var metrics flume.Metrics
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()
		metrics = observer.NewMetrics(inst)
	}

	// 3. Storage backend
	storage, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStorage()

	app := &app{
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
		storage: storage,
	}

	// 4. Dispatch
	switch os.Args[1] {
	case "run":
		err = app.run(ctx, os.Args[2:])
	case "resume":
		err = app.resume(ctx, os.Args[2:])
	case "list":
		err = app.list(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  flume run [--input '{"key": "value"}'] <workflow.json>
  flume resume [--step N] [--fork] [--workflow <path>] [--input '{...}'] <workflow_id> <run_id>
  flume list [workflow_id]`)
}

// openStorage builds the configured Storage and a cleanup function.
func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (flume.Storage, func(), error) {
	switch cfg.Storage.Backend {
	case "fs", "":
		fs := flume.NewFileStorage(cfg.Storage.Dir, flume.WithFileStorageLogger(logger))
		return fs, func() {}, nil
	case "sqlite":
		s := sqlite.New(cfg.Storage.Path, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		if cfg.Storage.DSN == "" {
			return nil, nil, errors.New("postgres backend needs storage.dsn or FLUME_POSTGRES_DSN")
		}
		pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	case "memory":
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// app carries the wiring shared by all subcommands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	tracer  flume.Tracer
	metrics flume.Metrics
	storage flume.Storage
}

// engineOptions assembles the options every subcommand passes to flume.New.
func (a *app) engineOptions(extra ...flume.Option) []flume.Option {
	opts := []flume.Option{
		flume.WithStorage(a.storage),
		flume.WithRegistry(builtinRegistry()),
		flume.WithLogger(a.logger),
	}
	if a.tracer != nil {
		opts = append(opts, flume.WithTracer(a.tracer))
	}
	if a.metrics != nil {
		opts = append(opts, flume.WithMetrics(a.metrics))
	}
	return append(opts, extra...)
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputJSON := fs.String("input", "", "answers to pre-supply, as a JSON object keyed by request id")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: flume run [--input '{...}'] <workflow.json>")
	}

	input, err := parseInput(*inputJSON)
	if err != nil {
		return err
	}

	e, err := flume.New(ctx, a.engineOptions(flume.WithDocumentPath(fs.Arg(0)))...)
	if err != nil {
		return err
	}
	defer e.Close()

	log.Printf("started run %s (workflow %s)", e.RunID(), e.WorkflowID())
	return driveToCompletion(ctx, e, input)
}

func (a *app) resume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	step := fs.Int("step", -1, "rewind to this snapshot index instead of the latest")
	fork := fs.Bool("fork", false, "branch into a new run, leaving the source untouched")
	docPath := fs.String("workflow", "", "workflow document path (defaults to <workflow_id>.json in the workflow dir)")
	inputJSON := fs.String("input", "", "answers to pre-supply, as a JSON object keyed by request id")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("usage: flume resume [--step N] [--fork] [--workflow <path>] [--input '{...}'] <workflow_id> <run_id>")
	}

	input, err := parseInput(*inputJSON)
	if err != nil {
		return err
	}

	opts := []flume.Option{flume.Resume(fs.Arg(1))}
	if *docPath != "" {
		opts = append(opts, flume.WithDocumentPath(*docPath))
	} else {
		opts = append(opts,
			flume.WithWorkflowID(fs.Arg(0)),
			flume.WithDocumentDir(a.cfg.Workflows.Dir))
	}
	if *step >= 0 {
		opts = append(opts, flume.ResumeFrom(*step))
	}
	if *fork {
		opts = append(opts, flume.Fork())
	}

	e, err := flume.New(ctx, a.engineOptions(opts...)...)
	if err != nil {
		return err
	}
	defer e.Close()

	if *fork {
		log.Printf("forked run %s from %s", e.RunID(), fs.Arg(1))
	} else {
		log.Printf("resumed run %s at step %d", e.RunID(), e.StepCount()-1)
	}
	return driveToCompletion(ctx, e, input)
}

func (a *app) list(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		workflows, err := a.storage.ListWorkflows(ctx)
		if err != nil {
			return err
		}
		for _, wf := range workflows {
			fmt.Println(wf)
		}
		return nil
	case 1:
		runs, err := a.storage.ListRuns(ctx, args[0])
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Println(run)
		}
		return nil
	default:
		return errors.New("usage: flume list [workflow_id]")
	}
}

// parseInput decodes the --input flag into the answer map handed to Run.
func parseInput(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(s), &input); err != nil {
		return nil, fmt.Errorf("parse --input: %w", err)
	}
	return input, nil
}

// driveToCompletion steps the run until it finishes or fails, answering
// input requests from stdin. A closed stdin leaves the run suspended; its
// journal already holds the waiting snapshot, so resume picks it up later.
func driveToCompletion(ctx context.Context, e *flume.Engine, input map[string]any) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		result, err := e.Run(ctx, input)
		if err != nil {
			return err
		}

		if result.AwaitingInput == nil {
			log.Printf("run %s finished: %s", e.RunID(), result.Status)
			return nil
		}

		answer, err := promptForInput(reader, result.AwaitingInput)
		if err == io.EOF {
			log.Printf("run suspended; continue with: flume resume %s %s", e.WorkflowID(), e.RunID())
			return nil
		}
		if err != nil {
			return err
		}
		input = map[string]any{result.AwaitingInput.RequestID: answer}
	}
}

// promptForInput shows one input request and reads the answer. For select
// requests, a number picks the corresponding option.
func promptForInput(r *bufio.Reader, aw *flume.AwaitingInput) (any, error) {
	fmt.Fprintf(os.Stderr, "%s\n", aw.Prompt)
	for i, opt := range aw.Options {
		fmt.Fprintf(os.Stderr, "  %d) %v\n", i+1, opt)
	}
	fmt.Fprint(os.Stderr, "> ")

	line, err := r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return nil, err
	}
	answer := strings.TrimSpace(line)

	if len(aw.Options) > 0 {
		if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(aw.Options) {
			return aw.Options[n-1], nil
		}
	}
	return answer, nil
}
