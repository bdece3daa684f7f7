// Command recsnap serves the record snapshot engine over MCP (stdio) and a
// JSON HTTP API, and inspects a store from the shell.
//
// Usage:
//
//	recsnap [serve]
//	recsnap diff [-format text|json|json_patch] [-color auto|always|never] <from> <to>
//	recsnap list [-type T] [-id ID]
//
// Environment:
//
//	CONFIG      YAML config file (optional)
//	BACKEND     overrides config backend: table, file, kv or memory
//	DB_PATH     overrides table.db_path
//	SNAP_DIR    overrides file.dir
//	KV_DIR      overrides kv.dir
//	HTTP_ADDR   HTTP listen address, "off" disables HTTP (default :8086)
//	MCP_STDIO   "1" serves MCP over stdin/stdout
//	LOG_LEVEL   debug, info, warn, error
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/recsnap/keeper"
)

const version = "0.1.0"

func main() {
	logger := newLogger(env("LOG_LEVEL", "info"), os.Getenv("MCP_STDIO") == "1")
	slog.SetDefault(logger)

	var err error
	cmd, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}
	switch cmd {
	case "serve":
		err = run(logger)
	case "diff":
		err = cmdDiff(args, os.Stdout, logger)
	case "list":
		err = cmdList(args, os.Stdout, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\nusage: recsnap [serve|diff|list]\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("recsnap: fatal", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// loadConfig reads CONFIG and applies the environment overrides.
func loadConfig() (*keeper.Config, error) {
	cfg := &keeper.Config{}
	if path := os.Getenv("CONFIG"); path != "" {
		loaded, err := keeper.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Backend = env("BACKEND", cfg.Backend)
	cfg.Table.DBPath = env("DB_PATH", cfg.Table.DBPath)
	cfg.File.Dir = env("SNAP_DIR", cfg.File.Dir)
	cfg.KV.Dir = env("KV_DIR", cfg.KV.Dir)
	return cfg, nil
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	k, err := keeper.New(cfg, logger)
	if err != nil {
		return err
	}
	defer k.Close()
	k.Start(ctx)

	errc := make(chan error, 2)
	running := 0

	if addr := env("HTTP_ADDR", ":8086"); addr != "" && addr != "off" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           k.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		running++
		go func() {
			logger.Info("recsnap: http listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
				return
			}
			errc <- nil
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if os.Getenv("MCP_STDIO") == "1" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "recsnap", Version: version}, nil)
		k.RegisterMCP(mcpSrv)
		running++
		go func() {
			logger.Info("recsnap: mcp serving on stdio")
			err := mcpSrv.Run(ctx, &mcp.StdioTransport{})
			if ctx.Err() != nil {
				err = nil
			}
			cancel()
			errc <- err
		}()
	}

	if running == 0 {
		return errors.New("recsnap: nothing to serve (HTTP_ADDR=off and MCP_STDIO unset)")
	}
	for range running {
		if err := <-errc; err != nil {
			cancel()
			return err
		}
	}
	logger.Info("recsnap: stopped")
	return nil
}

// newLogger writes JSON logs to stdout, or to stderr when stdout carries
// the MCP stream.
func newLogger(level string, stdio bool) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	out := os.Stdout
	if stdio {
		out = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
