package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alxayo/go-bolt/internal/logger"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
	srv "github.com/alxayo/go-bolt/internal/bolt/server"
	"github.com/alxayo/go-bolt/internal/bolt/session"
)

// main wires a minimal echo session (grounded on original_source/run_server.py's
// EchoServerSession, which answers every RUN with a single record containing
// the statement and its parameters) behind the Bolt TCP listener. Embedders
// needing real query execution should link internal/bolt/server directly and
// supply their own server.Config.NewHooks rather than use this binary as-is.
func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	server := srv.New(srv.Config{
		ListenAddr:    cfg.listenAddr,
		ChunkCapacity: int(cfg.chunkCapacity),
		NewHooks:      echoHooks,
	}, nil)

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: cfg.metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
		log.Info("metrics server started", "addr", cfg.metricsAddr)
		defer metricsSrv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}

func echoHooks(connID string) session.Hooks {
	return session.Hooks{
		GetServerMetadata: func() packstream.Map {
			return packstream.Map{{Key: "server", Value: "bolt-server/" + version}}
		},
		OnRun: func(statement string, parameters packstream.Map) (session.Records, error) {
			row := packstream.List{statement, parameters}
			return session.NewSliceRecords([]packstream.List{row}), nil
		},
	}
}
