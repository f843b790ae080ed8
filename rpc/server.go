package rpc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// Server is a JSON-RPC 2.0 HTTP server. POST / carries RPC calls, GET
// /healthz reports liveness and GET /metrics is mounted when a metrics
// handler is supplied.
type Server struct {
	handler   *Handler
	addr      string
	authToken string // empty → no auth required
	tlsConfig *tls.Config
	srv       *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server, chi.Router)

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(_ *Server, r chi.Router) { r.Method(http.MethodGet, "/metrics", h) }
}

// WithTLS serves over TLS using cfg.
func WithTLS(cfg *tls.Config) ServerOption {
	return func(s *Server, _ chi.Router) { s.tlsConfig = cfg }
}

// NewServer creates a Server on addr. If authToken is non-empty, every RPC
// request must carry a matching "Authorization: Bearer <token>" header.
func NewServer(addr string, handler *Handler, authToken string, opts ...ServerOption) *Server {
	s := &Server{handler: handler, addr: addr, authToken: authToken}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/", s.serveRPC)
	r.Get("/healthz", s.serveHealth)
	for _, opt := range opts {
		opt(s, r)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithField("component", "rpc").Errorf("server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "height": s.handler.seq.Chain().Height()})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if s.authToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.authToken {
			writeJSON(w, errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
	}

	// Limit request body to 1 MB to prevent memory exhaustion.
	r.Body = http.MaxBytesReader(w, r.Body, 1*1024*1024)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	resp := s.handler.Dispatch(req)
	if resp.Error != nil {
		log.WithFields(log.Fields{
			"component":  "rpc",
			"method":     req.Method,
			"code":       resp.Error.Code,
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug(resp.Error.Message)
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
