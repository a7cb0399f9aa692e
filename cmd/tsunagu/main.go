// Package main is the tsunagu CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/tsunagu/internal/app"
	"github.com/hyperjump/tsunagu/internal/cli"
	"github.com/hyperjump/tsunagu/internal/config"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/server"
	"github.com/hyperjump/tsunagu/internal/watcher"
	"github.com/hyperjump/tsunagu/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/tsunagu/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory is preferred if it exists, and when neither file exists the config is built from
// the environment alone. Returns the config and the path that was loaded ("" for environment).
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
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.FromEnv()
			return cfg, "", err
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
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "dedupe":
		runJob(models.RunDedupe)
	case "sync":
		runJob(models.RunSync)
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "runs":
		runRuns()
	case "init-config":
		runInitConfig()
	case "version", "--version", "-v":
		fmt.Printf("tsunagu version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode, "tsunagu")
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("intercom_token", utils.MaskSecret(cfg.Intercom.Token)),
		zap.String("github_token", utils.MaskSecret(cfg.GitHub.Token)),
		zap.String("kare_client_id", utils.MaskSecret(cfg.Kare.ClientID)),
	)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartScheduler(ctx)

	if cfg.Server.WatchConfig && resolvedConfigPath != "" {
		w := watcher.NewWatcher(resolvedConfigPath, func(path string) {
			reloaded, err := config.Load(path)
			if err != nil {
				logger.Warn("config reload failed", zap.String("path", path), zap.Error(err))
				return
			}
			a.ApplyIntervals(reloaded)
		}, watcher.WithLogger(logger.Named("watcher")))
		if err := w.Start(ctx); err != nil {
			logger.Warn("config watcher not started", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	srv := server.NewServer(a, &cfg.Server, logger.Named("http"))
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
}

// newLocalApp builds the components for a one-off command. The on-disk help index is only
// opened when withIndex is set, since a running server holds it locked.
func newLocalApp(configPath string, withIndex bool) (*app.App, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug, "tsunagu")
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	var opts []app.Option
	if !withIndex {
		opts = append(opts, app.WithMemoryIndex())
	}
	a, err := app.New(cfg, logger, opts...)
	if err != nil {
		fail("Failed to initialize: %v", err)
	}
	return a, logger
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fail("%v", err)
	}
	return format
}

// runJob runs a reconciliation or sync. With -server the run is started on the server and
// the command returns immediately; otherwise it runs in this process and prints the report.
func runJob(kind models.RunKind) {
	fs := flag.NewFlagSet(string(kind), flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "start the run on this server instead of running it here")
	dryRun := fs.Bool("dry-run", false, "compute changes without writing them")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	if *serverURL != "" {
		var run models.Run
		target := fmt.Sprintf("%s/api/v1/runs/%s?dry_run=%t", strings.TrimRight(*serverURL, "/"), kind, *dryRun)
		if err := callServer(http.MethodPost, target, http.StatusAccepted, &run); err != nil {
			fail("Start %s failed: %v", kind, err)
		}
		if err := cli.WriteRuns(os.Stdout, []*models.Run{&run}, format); err != nil {
			fail("Output failed: %v", err)
		}
		return
	}

	a, logger := newLocalApp(*configPath, false)
	defer logger.Sync()
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var run *models.Run
	var err error
	switch kind {
	case models.RunDedupe:
		var report *models.DedupeReport
		run, report, err = a.RunDuplicateReconciliation(ctx, *dryRun)
		if outErr := cli.WriteDedupeReport(os.Stdout, run, report, format); outErr != nil {
			fail("Output failed: %v", outErr)
		}
	case models.RunSync:
		var report *models.SyncReport
		run, report, err = a.RunKnowledgeSync(ctx, *dryRun)
		if outErr := cli.WriteSyncReport(os.Stdout, run, report, format); outErr != nil {
			fail("Output failed: %v", outErr)
		}
	}
	if err != nil {
		logger.Error("run failed", zap.String("kind", string(kind)), zap.Error(err))
		os.Exit(1)
	}
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
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

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct index mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the help index directly when the server is not running)")
	limit := fs.Int("limit", 10, "number of results")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tsunagu search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))
	query := buildSearchQuery(fs.Args())
	if query == "" {
		fs.Usage()
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	var hits []*keyword.Hit
	if *serverURL != "" {
		// The server holds the index lock; query it over HTTP.
		var resp struct {
			Hits []*keyword.Hit `json:"hits"`
		}
		q := url.Values{}
		q.Set("q", query)
		q.Set("limit", strconv.Itoa(*limit))
		target := strings.TrimRight(*serverURL, "/") + "/api/v1/help/search?" + q.Encode()
		if err := callServer(http.MethodGet, target, http.StatusOK, &resp); err != nil {
			fail("Search failed: %v", err)
		}
		hits = resp.Hits
	} else {
		a, logger := newLocalApp(*configPath, true)
		defer logger.Sync()
		defer a.Close()
		var err error
		hits, err = a.SearchHelp(context.Background(), query, *limit)
		if err != nil {
			fail("Search failed: %v", err)
		}
	}
	if err := cli.WriteHelpHits(os.Stdout, query, hits, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var st *app.Status
	if *serverURL != "" {
		st = &app.Status{}
		if err := callServer(http.MethodGet, strings.TrimRight(*serverURL, "/")+"/api/v1/status", http.StatusOK, st); err != nil {
			fail("Status failed: %v", err)
		}
	} else {
		a, logger := newLocalApp(*configPath, true)
		defer logger.Sync()
		defer a.Close()
		var err error
		st, err = a.Status(context.Background())
		if err != nil {
			fail("Status failed: %v", err)
		}
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	kind := fs.String("kind", "", "only show runs of this kind: dedupe or sync")
	limit := fs.Int("limit", 20, "number of runs")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var runs []*models.Run
	if *serverURL != "" {
		var resp struct {
			Runs []*models.Run `json:"runs"`
		}
		q := url.Values{}
		q.Set("limit", strconv.Itoa(*limit))
		if *kind != "" {
			q.Set("kind", *kind)
		}
		target := strings.TrimRight(*serverURL, "/") + "/api/v1/runs?" + q.Encode()
		if err := callServer(http.MethodGet, target, http.StatusOK, &resp); err != nil {
			fail("Runs failed: %v", err)
		}
		runs = resp.Runs
	} else {
		a, logger := newLocalApp(*configPath, false)
		defer logger.Sync()
		defer a.Close()
		var err error
		runs, err = a.Storage.ListRuns(context.Background(), models.RunKind(*kind), *limit)
		if err != nil {
			fail("Runs failed: %v", err)
		}
	}
	if err := cli.WriteRuns(os.Stdout, runs, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runInitConfig() {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fail("%s already exists; use -force to overwrite", *configPath)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(*configPath, cfg); err != nil {
		fail("%v", err)
	}
	fmt.Printf("Config written to %s\n", *configPath)
}

// callServer sends a request without a body and decodes the JSON response into out.
func callServer(method, target string, wantStatus int, out interface{}) error {
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`tsunagu - Intercom, Kare and GitHub integration service

Usage:
  tsunagu server [flags]           Start the HTTP server and the job schedule
  tsunagu dedupe [flags]           Reconcile duplicate contact flags
  tsunagu sync [flags]             Sync help pages into the knowledge store
  tsunagu search [flags] <query>   Search the help index
  tsunagu status [flags]           Show run history, index and schedule status
  tsunagu runs [flags]             List recent runs
  tsunagu init-config [flags]      Write a config file with default values
  tsunagu version                  Show version
  tsunagu help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/tsunagu/config.yaml,
                     or ./config.yaml when present, or the environment alone)
  --debug            Enable debug logging

Dedupe / Sync Flags:
  --config string    Config file path
  --dry-run          Compute changes without writing them
  --server string    Start the run on a running server instead of in this process
  --output string    Output format: text or json (default: text)

Search / Status / Runs Flags:
  --server string    Server URL (default: http://localhost:8000). Use --server "" to read
                     storage and the help index directly when the server is not running.
  --limit int        Number of results
  --kind string      (runs) only show dedupe or sync runs
  --output string    Output format: text or json (default: text)

Environment:
  IC_TOKEN, IC_BOT_ID, GH_TOKEN, KARE_ID, KARE_SECRET, KARE_URL, TC_URL, PORT, DEBUG

Examples:
  tsunagu server
  tsunagu dedupe --dry-run
  tsunagu sync --server http://localhost:8000
  tsunagu search invoices
  tsunagu runs --kind sync --limit 5
  tsunagu status --output json`)
}
