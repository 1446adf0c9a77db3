// Command tabwarden attaches to a running Chromium-family browser over the
// DevTools protocol, keeps per-tab usage statistics in SQLite, and serves
// the derived telemetry (summary, rankings, memory estimates, cleanup
// recommendations) over a local JSON API and, optionally, MCP on stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/tabwarden/tabwarden/browser"
	"github.com/tabwarden/tabwarden/config"
	"github.com/tabwarden/tabwarden/httpapi"
	"github.com/tabwarden/tabwarden/ledger"
	"github.com/tabwarden/tabwarden/mcpsrv"
	"github.com/tabwarden/tabwarden/memest"
	"github.com/tabwarden/tabwarden/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		exportPath = flag.String("export", "", "write the bundle as JSON to this path (\"-\" for stdout) and exit")
		logLevel   = flag.String("log-level", "", "override log level: debug, info, warn or error")
	)
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
		if _, err := cfg.SlogLevel(); err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	}

	// Logging. MCP speaks JSON-RPC on stdout, so logs move to stderr when
	// it is enabled.
	lvl, _ := cfg.SlogLevel()
	logOut := os.Stdout
	if cfg.MCP.Enabled {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := store.Open(cfg.DBPath, store.WithMkdirAll(), store.WithLogger(logger))
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	// One-shot export needs no browser.
	if *exportPath != "" {
		if err := runExport(ctx, gw, *exportPath); err != nil {
			slog.Error("export", "error", err)
			os.Exit(1)
		}
		return
	}

	bc, err := browser.Connect(ctx, browser.Config{
		ControlURL:           cfg.Browser.URL,
		ActivityPollInterval: cfg.ActivityPollInterval(),
		Logger:               logger,
	})
	if err != nil {
		slog.Error("browser", "error", err)
		os.Exit(1)
	}
	defer bc.Close()

	// Event ledger: browser lifecycle events -> durable stat records.
	led := ledger.New(gw, ledger.Config{Logger: logger})
	led.Start(ctx)
	defer led.Close()
	led.Attach(bc)
	go bc.Watch(ctx)

	// Seed stat records for tabs already open before we attached.
	tabs, err := bc.QueryAllTabs(ctx)
	if err != nil {
		slog.Error("initial tab query", "error", err)
		os.Exit(1)
	}
	led.ResyncAll(tabs)
	slog.Info("attached", "url", cfg.Browser.URL, "tabs", len(tabs))

	est := memest.New(bc, memest.Config{
		TTL:          cfg.ProbeCacheTTL(),
		ProbeTimeout: cfg.ProbeTimeout(),
		Logger:       logger,
	})

	watcher := store.NewWatcher(gw, store.WatchOptions{Logger: logger})
	go watcher.Run(ctx, func() {})

	// Optional MCP on stdio.
	if cfg.MCP.Enabled {
		msvc := mcpsrv.NewService(gw, bc, est, nil)
		mcpServer := mcp.NewServer(&mcp.Implementation{
			Name:    "tabwarden",
			Version: "1.0.0",
		}, nil)
		msvc.RegisterMCP(mcpServer)
		go func() {
			slog.Info("MCP starting", "transport", "stdio")
			if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP", "error", err)
			}
		}()
	}

	svc := httpapi.New(httpapi.Config{
		Gateway:   gw,
		Tabs:      bc,
		Estimator: est,
		Watcher:   watcher,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// runExport dumps the bundle as indented JSON to path, or stdout for "-".
func runExport(ctx context.Context, gw *store.Gateway, path string) error {
	data, err := gw.Export(ctx)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Info("bundle exported", "path", path, "bytes", len(data))
	return nil
}
