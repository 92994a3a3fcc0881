package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/comigor/calmchat/internal/chat"
	"github.com/comigor/calmchat/internal/config"
	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/httpapi"
	"github.com/comigor/calmchat/internal/llm"
	"github.com/comigor/calmchat/internal/logger"
	"github.com/comigor/calmchat/internal/mcpserver"
	"github.com/comigor/calmchat/internal/session"
	"github.com/comigor/calmchat/internal/store"
	"github.com/comigor/calmchat/internal/tokens"
	"github.com/comigor/calmchat/internal/window"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		logger.L.Error("calmchat exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("calmchat", pflag.ExitOnError)
	flags.String("config", "", "path to config.yaml (default ./config.yaml or $CONFIG_PATH)")
	flags.String("transport", config.TransportHTTP, "serve over http or mcp-stdio")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counter, err := tokens.New(cfg.Tokenizer)
	if err != nil {
		return fmt.Errorf("init tokenizer: %w", err)
	}

	st, err := store.Open(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer st.Close()
	go history.Sweep(ctx, st, cfg.History.SweepInterval)

	hist := history.NewService(st, counter,
		history.WithRetention(cfg.History.Retention),
		history.WithPageSize(cfg.History.PageSize))

	backend := llm.NewBackend(llm.NewClient(cfg.LLM), cfg.LLM)
	handler := chat.NewHandler(
		session.NewManager(hist),
		hist,
		window.Builder{Counter: counter},
		backend,
		window.Budget(cfg.Context.MaxTokens, cfg.Context.ReserveTokens),
	)

	switch cfg.Server.Transport {
	case config.TransportMCPStdio:
		logger.L.Info("serving MCP over stdio", "owner", cfg.MCP.OwnerID)
		return mcpserver.Serve(mcpserver.New(mcpserver.NewTools(handler, cfg.MCP.OwnerID), version))
	default:
		return serveHTTP(ctx, cfg.Server, httpapi.New(handler, cfg.Server))
	}
}

func serveHTTP(ctx context.Context, cfg config.ServerConfig, api *httpapi.Server) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	logger.L.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
