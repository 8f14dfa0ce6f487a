package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/solarsync/solarsync/internal/agent"
	"github.com/solarsync/solarsync/internal/api"
	"github.com/solarsync/solarsync/internal/broadcast"
	"github.com/solarsync/solarsync/internal/catalog"
	"github.com/solarsync/solarsync/internal/config"
	"github.com/solarsync/solarsync/internal/notify"
	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
	"github.com/solarsync/solarsync/internal/sweep"
	"github.com/solarsync/solarsync/internal/triage"
	"github.com/solarsync/solarsync/internal/weather"
	"github.com/solarsync/solarsync/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the solarsync server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running solarsync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show solarsync system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "solarsync.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// roster adapts the storage layer to the context-aware interface the triage
// predictor consumes.
type roster struct {
	store *storage.Store
}

func (r roster) ListTechnicians(ctx context.Context) ([]storage.Technician, error) {
	return r.store.ListTechnicians()
}

// logSender stands in for the SMS gateway when none is configured. Messages
// are logged and reported as delivered so pipelines can still finish.
type logSender struct{}

func (logSender) Send(ctx context.Context, phone, message string) (string, error) {
	slog.Info("sms gateway disabled, logging notification", "phone", phone, "message", message)
	return "logged-" + uuid.NewString(), nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "solarsync version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("solarsync is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("solarsync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the sizing engine on live weather data plus catalog overrides.
	weatherClient := weather.NewClient(cfg.Weather.BaseURL, cfg.WeatherCacheTTL())
	cat := catalog.New(store)
	ratings, err := cat.Ratings()
	if err != nil {
		return fmt.Errorf("loading appliance catalog: %w", err)
	}
	sizingEngine := sizing.NewEngine(weatherClient, ratings)

	predictor := triage.NewPredictor(roster{store: store})
	hub := broadcast.NewHub()

	var sender agent.Sender
	if cfg.SMS.BaseURL != "" {
		sender = notify.NewClient(cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.Sender)
	} else {
		sender = logSender{}
	}

	// Assemble the agent pipeline.
	nodes := map[string]agent.Func{
		state.NodeCreator:      agent.NewCreator(store, hub),
		state.NodeSizing:       agent.NewSizer(sizingEngine, store, hub),
		state.NodeTriage:       agent.NewTriager(predictor, store, hub),
		state.NodeAssignment:   agent.NewAssigner(store, hub),
		state.NodeNotification: agent.NewNotifier(sender, store),
		state.NodeWeatherCheck: agent.NewWeatherChecker(weatherClient, store, hub),
		state.NodeCompletion:   agent.NewCompleter(store, hub),
	}
	wfEngine, err := workflow.NewEngine(nodes)
	if err != nil {
		return fmt.Errorf("building workflow engine: %w", err)
	}
	runner := workflow.NewRunner(wfEngine, store, cfg.StateTTL())

	// Start the periodic weather sweep.
	sweeper := sweep.NewWorker(store, runner, cfg.SweepInterval())
	go sweeper.Run(ctx)

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Store:   store,
		Runner:  runner,
		Sweeper: sweeper,
		Sizer:   sizingEngine,
		Catalog: cat,
		WS:      hub.Handler(),
		Token:   cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store: store,
		Sizer: sizingEngine,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "solarsync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("solarsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop solarsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to solarsync (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Weather", "%s", cfg.Weather.BaseURL)
	if cfg.SMS.BaseURL != "" {
		printStatus("SMS", "gateway at %s", cfg.SMS.BaseURL)
	} else {
		printStatus("SMS", "disabled (notifications logged)")
	}
	printStatus("Sweep", "every %s", cfg.Sweep.Interval)
	return nil
}
