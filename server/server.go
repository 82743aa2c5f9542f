// Package server exposes the node's HTTP surface: the REST endpoints for
// rooms, tradings, and ownership, and the negotiation websocket mount.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/bookchain/bookchain/config"
	"github.com/bookchain/bookchain/libs/log"
)

// Server serves the REST API and the negotiation websocket on a single
// listener.
type Server struct {
	cfg     *config.RPCConfig
	handler http.Handler
	logger  log.Logger
}

// New assembles the HTTP surface from the REST environment and the
// negotiation websocket handler.
func New(cfg *config.RPCConfig, env *Environment, wsHandler http.Handler, logger log.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", env.handleCreateRoom)
	mux.HandleFunc("/tradings", env.handleTradings)
	mux.HandleFunc("/ownership", env.handleOwnership)
	mux.Handle("/ws", wsHandler)

	var handler http.Handler = mux
	if cfg.IsCorsEnabled() {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: cfg.CORSAllowedMethods,
			AllowedHeaders: cfg.CORSAllowedHeaders,
		})
		handler = corsMiddleware.Handler(mux)
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("module", "server"),
	}
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Listen opens a listener on an address of the form proto://host:port, e.g.
// tcp://127.0.0.1:26658 or unix:///var/run/bookchain.sock.
func Listen(addr string) (net.Listener, error) {
	parts := strings.SplitN(addr, "://", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid listen address " + addr + ", expected proto://address")
	}
	return net.Listen(parts[0], parts[1])
}

// Serve accepts connections on ln until ctx is canceled, then drains and
// shuts the server down. It reports nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	s.logger.Info("serving", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		// negotiation websockets are hijacked and close through the room
		// registry, not through Shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
