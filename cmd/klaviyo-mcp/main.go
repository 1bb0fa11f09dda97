// Klaviyo-mcp is an MCP server that exposes the Klaviyo marketing API
// as tools and resources over stdio.
//
// It speaks JSON-RPC 2.0, one frame per line: requests arrive on stdin
// and responses leave on stdout, so all logging goes to stderr or a
// configured file. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]); with no
// file present the server starts on built-in defaults and the
// KLAVIYO_API_KEY environment variable.
//
// Usage:
//
//	klaviyo-mcp              Serve MCP over stdio (same as "serve")
//	klaviyo-mcp serve        Serve MCP over stdio
//	klaviyo-mcp init [dir]   Write a starter config file
//	klaviyo-mcp tools        Print the tool catalog
//	klaviyo-mcp version      Print version and build information
//	klaviyo-mcp -o json tools    Output the catalog as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/wrenfield/klaviyo-mcp/internal/audit"
	"github.com/wrenfield/klaviyo-mcp/internal/buildinfo"
	"github.com/wrenfield/klaviyo-mcp/internal/cache"
	"github.com/wrenfield/klaviyo-mcp/internal/config"
	"github.com/wrenfield/klaviyo-mcp/internal/framing"
	"github.com/wrenfield/klaviyo-mcp/internal/klaviyo"
	"github.com/wrenfield/klaviyo-mcp/internal/metrics"
	"github.com/wrenfield/klaviyo-mcp/internal/resources"
	"github.com/wrenfield/klaviyo-mcp/internal/server"
	"github.com/wrenfield/klaviyo-mcp/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdin, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the klaviyo-mcp command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the serve loop and background goroutines.
//   - stdin carries inbound protocol frames; stdout carries responses.
//     Nothing else may write to stdout while serving.
//   - stderr receives logs and fatal error messages.
//   - args is os.Args[1:], the command-line arguments after the
//     program name. We parse these manually rather than using the flag
//     package to avoid global state that interferes with parallel
//     tests.
//
// run returns nil on clean shutdown and a non-nil error for any
// failure. The caller (main) is responsible for printing the error and
// exiting.
func run(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" && !strings.HasPrefix(args[i], "-") {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve", "":
		// MCP hosts launch the binary with no arguments, so the bare
		// invocation serves rather than printing usage.
		return runServe(ctx, stdin, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "tools":
		return runTools(stdout, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	delete(info, "uptime") // meaningless for a process that just started
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runTools prints the tool catalog without loading any configuration.
// The registry is built against an unconfigured client; nothing is
// dialed, so no API key is required just to inspect the catalog.
func runTools(w io.Writer, outputFmt string) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := klaviyo.NewClient(klaviyo.Config{}, logger)
	list := tools.NewRegistry(client, logger).List()

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	fmt.Fprintf(w, "%d tools:\n", len(list))
	for _, t := range list {
		fmt.Fprintf(w, "  %-30s %s\n", t.Name, t.Description)
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// klaviyo-mcp is invoked with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "klaviyo-mcp - Klaviyo MCP server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: klaviyo-mcp [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Serve MCP over stdio (default)")
	fmt.Fprintln(w, "  init [dir]   Write a starter config file (default: .)")
	fmt.Fprintln(w, "  tools        Print the tool catalog")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./klaviyo-mcp.yaml, ~/.config/klaviyo-mcp/config.yaml,")
	fmt.Fprintln(w, "  /etc/klaviyo-mcp/config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Without a config file the server starts on built-in defaults")
	fmt.Fprintln(w, "and reads the API key from KLAVIYO_API_KEY.")
	return nil
}

// runServe starts the MCP server and blocks until stdin closes or a
// shutdown signal arrives.
//
// The shutdown sequence is:
//  1. EOF on stdin, SIGINT, or SIGTERM ends the framing loop
//  2. Background goroutines (sweeper, reporter) stop with the context
//  3. The audit store and the data-dir lock are released via defers
func runServe(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stderr, slog.LevelInfo, "text")
	logger.Info("starting klaviyo-mcp", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure logging now that we know the desired level, format,
	// and sink. The initial Info-level text logger is used only for the
	// startup banner; everything after this point uses the configured
	// handler, wrapped in the quiet-start filter so informational
	// chatter stays out of the host's log panel while the MCP handshake
	// is in flight.
	logSink := io.Writer(stderr)
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.Log.File, err)
		}
		defer f.Close()
		logSink = f
	}
	{
		// ParseLogLevel is already checked by cfg.Validate, so this
		// error path should be unreachable in practice.
		level, _ := config.ParseLogLevel(cfg.Log.Level)
		opts := &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}
		var handler slog.Handler
		if cfg.Log.Format == "json" {
			handler = slog.NewJSONHandler(logSink, opts)
		} else {
			handler = slog.NewTextHandler(logSink, opts)
		}
		handler = config.QuietStart(handler, time.Duration(cfg.Log.StartupQuietMS)*time.Millisecond, slog.LevelWarn)
		logger = slog.New(handler)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"base_url", cfg.Klaviyo.BaseURL,
		"revision", cfg.Klaviyo.Revision,
	)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by the framing loop
	// and every background goroutine.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Data directory ---
	// Persistent state (the audit database) lives here. The flock
	// rejects a second instance sharing the directory; two servers
	// appending to one SQLite file from separate processes is the
	// failure mode being refused.
	var dirLock *flock.Flock
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
		}
		dirLock = flock.New(filepath.Join(cfg.DataDir, "klaviyo-mcp.lock"))
		held, err := dirLock.TryLock()
		if err != nil {
			return fmt.Errorf("lock data directory %s: %w", cfg.DataDir, err)
		}
		if !held {
			return fmt.Errorf("data directory %s is in use by another klaviyo-mcp instance", cfg.DataDir)
		}
		defer dirLock.Unlock()
	}

	// --- Response cache ---
	var store *cache.Store
	if cfg.Cache.Enabled {
		ttl := make(map[string]time.Duration, len(cfg.Cache.TTLSeconds))
		for typ, secs := range cfg.Cache.TTLSeconds {
			ttl[typ] = time.Duration(secs) * time.Second
		}
		store = cache.New(cache.Config{
			Enabled:    true,
			MaxEntries: cfg.Cache.MaxEntries,
			TTL:        ttl,
		}, logger)
		if cfg.Cache.SweepIntervalSec > 0 {
			store.StartSweeper(ctx, time.Duration(cfg.Cache.SweepIntervalSec)*time.Second)
		}
	}

	// --- Latency metrics ---
	// Sketch-backed quantiles per operation, reported periodically to
	// the log along with cache occupancy.
	tracker := metrics.New(metrics.DefaultRelativeAccuracy)
	if cfg.Stats.ReportIntervalSec > 0 {
		var extras []func()
		if store != nil {
			extras = append(extras, func() {
				st := store.Stats()
				logger.Info("cache stats", "entries", st.Total, "by_type", st.ByType)
			})
		}
		tracker.StartReporter(ctx, logger, time.Duration(cfg.Stats.ReportIntervalSec)*time.Second, extras...)
	}

	// --- Klaviyo client ---
	clientOpts := []klaviyo.Option{
		klaviyo.WithRetryConfig(klaviyo.RetryConfig{
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			Factor:       cfg.Retry.BackoffFactor,
			MaxRetries:   cfg.Retry.MaxRetries,
		}),
		klaviyo.WithLatencyRecorder(tracker),
	}
	if store != nil {
		clientOpts = append(clientOpts, klaviyo.WithCache(store))
	}
	client := klaviyo.NewClient(klaviyo.Config{
		BaseURL:  cfg.Klaviyo.BaseURL,
		APIKey:   cfg.Klaviyo.APIKey,
		Revision: cfg.Klaviyo.Revision,
	}, logger, clientOpts...)

	// --- Registries and server ---
	toolReg := tools.NewRegistry(client, logger)
	resReg := resources.NewRegistry(client, logger)

	srvOpts := []server.Option{
		server.WithWriter(stdout),
		server.WithLatencyRecorder(tracker),
	}
	if cfg.Audit.Enabled {
		auditPath := filepath.Join(cfg.DataDir, "audit.db")
		auditStore, err := audit.NewStore(auditPath, logger)
		if err != nil {
			return fmt.Errorf("open audit store %s: %w", auditPath, err)
		}
		defer auditStore.Close()
		srvOpts = append(srvOpts, server.WithAuditor(auditStore))
		logger.Info("audit trail enabled", "path", auditPath)
	}
	srv := server.New(server.Info{
		Name:    "klaviyo-mcp",
		Version: buildinfo.Version,
	}, toolReg, resReg, logger, srvOpts...)

	// Read frames until the host closes stdin or a signal cancels ctx.
	// EOF is the normal MCP shutdown path and exits clean.
	logger.Info("serving MCP over stdio", "tools", len(toolReg.List()), "protocol", server.ProtocolVersion)
	dec := framing.NewDecoder(stdin, func(raw json.RawMessage) {
		srv.Handle(ctx, raw)
	}, logger)
	if err := dec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio loop: %w", err)
	}
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
	}

	logger.Info("klaviyo-mcp stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
// Otherwise [config.FindConfig] searches the default locations; when
// nothing is found the built-in defaults are used with the API key
// taken from the environment, since MCP hosts commonly configure
// servers through env vars alone. Returns the parsed config, a
// description of where it came from, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		cfg.Klaviyo.APIKey = os.Getenv("KLAVIYO_API_KEY")
		return cfg, "built-in defaults", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
