// Package node wires the configuration, the ledger client, the room
// registry, and the HTTP server into a runnable bookchain node.
package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bookchain/bookchain/config"
	"github.com/bookchain/bookchain/ledger"
	"github.com/bookchain/bookchain/libs/log"
	"github.com/bookchain/bookchain/rooms"
	"github.com/bookchain/bookchain/server"
)

// Node is a fully assembled bookchain node.
type Node struct {
	cfg    *config.Config
	logger log.Logger

	ledger *ledger.HTTPClient
	server *server.Server
}

// New assembles a node from its configuration. Nothing is started; call Run.
func New(cfg *config.Config, logger log.Logger) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ledgerMetrics := ledger.NopMetrics()
	roomsMetrics := rooms.NopMetrics()
	serverMetrics := server.NopMetrics()
	if cfg.Instrumentation.Prometheus {
		ns := cfg.Instrumentation.Namespace
		ledgerMetrics = ledger.PrometheusMetrics(ns)
		roomsMetrics = rooms.PrometheusMetrics(ns)
		serverMetrics = server.PrometheusMetrics(ns)
	}

	ledgerClient := ledger.NewHTTPClient(cfg.Ledger, logger, ledger.WithMetrics(ledgerMetrics))

	registry := rooms.NewRegistry()
	wsHandler := rooms.NewHandler(registry, ledgerClient, logger,
		rooms.WithMetrics(roomsMetrics),
		rooms.WithReadWait(cfg.RPC.WebSocketReadWait),
		rooms.WithWriteWait(cfg.RPC.WebSocketWriteWait),
	)

	env := &server.Environment{
		Ledger:   ledgerClient,
		Registry: registry,
		Host:     cfg.Host,
		Logger:   logger.With("module", "rest"),
		Metrics:  serverMetrics,
	}
	srv := server.New(cfg.RPC, env, wsHandler, logger)

	return &Node{
		cfg:    cfg,
		logger: logger.With("module", "node"),
		ledger: ledgerClient,
		server: srv,
	}, nil
}

// Run starts the ledger client and the HTTP listeners and blocks until ctx
// is canceled or a component fails.
func (n *Node) Run(ctx context.Context) error {
	if err := n.ledger.Start(ctx); err != nil {
		return fmt.Errorf("starting ledger client: %w", err)
	}
	defer n.ledger.Stop()

	ln, err := server.Listen(n.cfg.RPC.ListenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", n.cfg.RPC.ListenAddress, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.server.Serve(gctx, ln)
	})
	if n.cfg.Instrumentation.Prometheus {
		g.Go(func() error {
			return n.servePrometheus(gctx)
		})
	}

	n.logger.Info("node started", "host", n.cfg.Host)
	return g.Wait()
}

func (n *Node) servePrometheus(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              n.cfg.Instrumentation.PrometheusListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	n.logger.Info("serving prometheus metrics", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errc
		return nil
	case err := <-errc:
		return err
	}
}
