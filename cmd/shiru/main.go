// Package main is the shiru CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/shiru/internal/cli"
	"github.com/hyperjump/shiru/internal/config"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/internal/pipeline"
	"github.com/hyperjump/shiru/internal/server"
	"github.com/hyperjump/shiru/internal/watcher"
	"github.com/hyperjump/shiru/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/shiru/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// Exit codes, one per error kind.
const (
	exitOK          = 0
	exitOther       = 1
	exitLoad        = 2
	exitEmptyInput  = 3
	exitInvalidArg  = 4
	exitDimension   = 5
	exitPersistence = 6
)

// exitCode maps err to the process exit code of its kind.
func exitCode(err error) int {
	switch models.KindOf(err) {
	case "":
		return exitOK
	case models.KindLoadFailure:
		return exitLoad
	case models.KindEmptyInput:
		return exitEmptyInput
	case models.KindInvalidArgument:
		return exitInvalidArg
	case models.KindDimensionMismatch:
		return exitDimension
	case models.KindPersistence:
		return exitPersistence
	default:
		return exitOther
	}
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving watch directories).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidArg)
	}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "serve", "server":
		err = runServe(args)
	case "ingest":
		err = runIngest(args)
	case "query", "search":
		err = runQuery(args)
	case "ask":
		err = runAsk(args)
	case "retry":
		err = runRetry(args)
	case "clear":
		err = runClear(args)
	case "status":
		err = runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("shiru version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(exitInvalidArg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// clientFlags are shared by every command that can run against a server or in-process.
type clientFlags struct {
	config *string
	server *string
	format *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		config: fs.String("config", defaultConfigPath, "config file path (used in direct mode)"),
		server: fs.String("server", defaultServerURL, "server URL; empty runs the pipeline in this process"),
		format: fs.String("format", "text", "output format: text, json or compact"),
	}
}

// open returns the backend selected by the flags and the parsed output format.
func (f clientFlags) open() (backend, cli.OutputFormat, error) {
	format, err := cli.ParseFormat(*f.format)
	if err != nil {
		return nil, "", err
	}
	if *f.server != "" {
		return cli.NewClient(*f.server, 10*time.Minute), format, nil
	}
	cfg, _, err := loadConfig(*f.config)
	if err != nil {
		return nil, "", err
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, "", err
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, "", err
	}
	return &direct{components: components}, format, nil
}

// argsReorder moves any flags (and their values) that appear after the positional arguments
// to the front so that flag.Parse sees them. The flag package stops at the first non-flag
// argument, so "shiru query how to deploy -k 3" would otherwise leave -k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// configPathFromArgs returns the -config value from args, or defaultPath. Used before flag
// parsing so flag defaults can come from the config file.
func configPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// defaultKFromConfig returns search.default_k from the config at path, or pipeline.DefaultK
// when the config cannot be loaded.
func defaultKFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil || cfg.Search.DefaultK <= 0 {
		return pipeline.DefaultK
	}
	return cfg.Search.DefaultK
}

// joinArgs joins positional args with spaces so multi-word questions work with or without
// shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signalContext()
	defer stop()

	watchSvc := watcher.New(
		components.Pipeline,
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		watcher.WithLogger(logger),
		watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMillis)*time.Millisecond),
	)
	if err := watchSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watchSvc.Stop()
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(components.Pipeline, cfg, logger, server.WithWatch(watchSvc, resolvedConfigPath))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	report, err := components.Pipeline.RetryPending(shutdownCtx)
	if err != nil {
		logger.Warn("pending chunks not persisted on shutdown",
			zap.Int("pending", report.Pending),
			zap.Error(err),
		)
	}
	return nil
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	flags := addClientFlags(fs)
	sourceTag := fs.String("source-tag", "", "tag stored as the source of every chunk")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: shiru ingest [flags] <file|directory|url>")
		fs.PrintDefaults()
		return models.InvalidArgument("ingest takes exactly one locator")
	}
	b, format, err := flags.open()
	if err != nil {
		return err
	}
	defer b.Close()
	ctx, stop := signalContext()
	defer stop()

	report, err := b.Ingest(ctx, fs.Arg(0), *sourceTag)
	if report != nil {
		if werr := cli.WriteReport(os.Stdout, report, format); werr != nil {
			return werr
		}
	}
	return err
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	flags := addClientFlags(fs)
	k := fs.Int("k", defaultKFromConfig(configPathFromArgs(args, defaultConfigPath)), "number of results")
	hybrid := fs.Bool("hybrid", false, "combine keyword and vector scores")
	_ = fs.Parse(argsReorder(args))
	question := joinArgs(fs.Args())
	if question == "" {
		fmt.Fprintln(os.Stderr, "Usage: shiru query [flags] <question>")
		fs.PrintDefaults()
		return models.ErrEmptyQuery
	}
	b, format, err := flags.open()
	if err != nil {
		return err
	}
	defer b.Close()
	ctx, stop := signalContext()
	defer stop()

	resp, err := b.Query(ctx, question, *k, *hybrid)
	if err != nil {
		return err
	}
	return cli.WriteResults(os.Stdout, resp, format)
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	flags := addClientFlags(fs)
	k := fs.Int("k", defaultKFromConfig(configPathFromArgs(args, defaultConfigPath)), "number of chunks to answer from")
	_ = fs.Parse(argsReorder(args))
	question := joinArgs(fs.Args())
	if question == "" {
		fmt.Fprintln(os.Stderr, "Usage: shiru ask [flags] <question>")
		fs.PrintDefaults()
		return models.ErrEmptyQuery
	}
	b, format, err := flags.open()
	if err != nil {
		return err
	}
	defer b.Close()
	ctx, stop := signalContext()
	defer stop()

	view, err := b.Ask(ctx, question, *k)
	if err != nil {
		return err
	}
	return cli.WriteAnswer(os.Stdout, view, format)
}

func runRetry(args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	flags := addClientFlags(fs)
	_ = fs.Parse(args)
	b, format, err := flags.open()
	if err != nil {
		return err
	}
	defer b.Close()
	ctx, stop := signalContext()
	defer stop()

	report, err := b.Retry(ctx)
	if report != nil {
		if werr := cli.WriteReport(os.Stdout, report, format); werr != nil {
			return werr
		}
	}
	return err
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	flags := addClientFlags(fs)
	cache := fs.Bool("cache", false, "also drop the embedding cache")
	_ = fs.Parse(args)
	b, _, err := flags.open()
	if err != nil {
		return err
	}
	defer b.Close()
	ctx, stop := signalContext()
	defer stop()

	if err := b.ClearIndex(ctx); err != nil {
		return err
	}
	fmt.Println("Index cleared.")
	if *cache {
		if err := b.ClearCache(ctx); err != nil {
			return err
		}
		fmt.Println("Embedding cache cleared.")
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	flags := addClientFlags(fs)
	_ = fs.Parse(args)
	b, format, err := flags.open()
	if err != nil {
		return err
	}
	defer b.Close()
	ctx, stop := signalContext()
	defer stop()

	st, err := b.Status(ctx)
	if err != nil {
		var remote *cli.RemoteError
		if !errors.As(err, &remote) && *flags.server != "" {
			return fmt.Errorf("%w (use -server \"\" to read the index directly)", err)
		}
		return err
	}
	return cli.WriteStatus(os.Stdout, st, format)
}

func printUsage() {
	fmt.Println(`shiru - local retrieval over your documents

Usage:
  shiru serve [flags]                 Start the HTTP server and directory watcher
  shiru ingest [flags] <locator>      Ingest a file, directory or URL
  shiru query [flags] <question>      Retrieve the k most similar chunks
  shiru ask [flags] <question>        Answer a question from retrieved chunks
  shiru retry [flags]                 Re-run embedding and saving for pending chunks
  shiru clear [flags]                 Empty the index
  shiru status [flags]                Show index, cache and id sequence state
  shiru version                       Show version
  shiru help                          Show this help

Serve Flags:
  -config string    Config file path (default: /usr/local/etc/shiru/config.yaml)
  -debug            Enable debug logging

Client Flags (ingest, query, ask, retry, clear, status):
  -config string    Config file path (direct mode)
  -server string    Server URL (default: http://localhost:8080). Use -server "" to run in-process.
  -format string    Output format: text, json or compact (default: text)

Command Flags:
  ingest -source-tag string   Store this tag as the source of every chunk
  query  -k int               Number of results (default: 5)
  query  -hybrid              Combine keyword and vector scores
  ask    -k int               Number of chunks to answer from (default: 5)
  clear  -cache               Also drop the embedding cache

Exit codes:
  0 ok, 1 other, 2 load failure, 3 empty input, 4 invalid argument,
  5 dimension mismatch, 6 persistence failure

Examples:
  shiru serve
  shiru ingest ~/notes
  shiru ingest -source-tag handbook https://example.com/handbook.html
  shiru query -k 3 how do we rotate keys
  shiru query -hybrid -format json "postgres replication"
  shiru ask "what is the on-call rotation?"
  shiru status -server ""`)
}
