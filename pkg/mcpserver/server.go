// Package mcpserver exposes the data tools over the MCP streamable HTTP
// transport.
package mcpserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/malbeclabs/querysynth/pkg/metrics"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Server struct {
	log  *slog.Logger
	cfg  Config
	mcp  *mcp.Server
	http *http.Server

	resourcesMu sync.Mutex
	resources   []string // published resource URIs, oldest first
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate mcp server config: %w", err)
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "querysynth",
		Version: cfg.Version,
	}, nil)

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		mcp: mcpServer,
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	s.registerArtifactTemplate()

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) registerTools() error {
	registrations := []struct {
		name string
		fn   func() error
	}{
		{toolQueryData, s.registerQueryData},
		{toolSearchSimilarColumns, s.registerSearchSimilarColumns},
		{toolGetDatabaseContext, s.registerGetDatabaseContext},
		{toolExitColumnExtraction, s.registerExitColumnExtraction},
		{toolGetSQLQueryReferences, s.registerGetSQLQueryReferences},
		{toolGetArtifacts, s.registerGetArtifacts},
		{toolGetArtifact, s.registerGetArtifact},
		{toolSaveImage, s.registerSaveImage},
	}
	if s.cfg.Pipeline != nil {
		registrations = append(registrations, struct {
			name string
			fn   func() error
		}{toolRunDataSearch, s.registerRunDataSearch})
	}
	for _, r := range registrations {
		if err := r.fn(); err != nil {
			return fmt.Errorf("failed to create %s tool: %w", r.name, err)
		}
		s.log.Debug("mcpserver: registered tool", "tool", r.name)
	}
	return nil
}

// Handler returns the HTTP routes: the MCP endpoint at / and the health
// probes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
		MaxAge:         300,
	}))
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeText(w, http.StatusOK, "ok\n")
	})
	r.Get("/readyz", s.readyzHandler)

	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})
	var mcpHandler http.Handler = handler
	if len(s.cfg.AllowedTokens) > 0 {
		mcpHandler = s.authMiddleware(handler)
	}
	r.Handle("/", mcpHandler)
	r.Handle("/mcp", mcpHandler)
	return r
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("mcpserver: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("mcpserver: streamable http listening", "listenAddr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("mcpserver: stopping", "reason", ctx.Err(), "listenAddr", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("mcpserver: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.log.Debug("mcpserver: not ready", "error", err)
			s.writeText(w, http.StatusServiceUnavailable, "not ready\n")
			return
		}
	}
	s.writeText(w, http.StatusOK, "ok\n")
}

func (s *Server) writeText(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		s.log.Error("mcpserver: failed to write response", "error", err)
	}
}

// authMiddleware requires one of the configured bearer tokens.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fail := func(reason, message string) {
			metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
			w.Header().Set("WWW-Authenticate", `Bearer`)
			s.writeText(w, http.StatusUnauthorized, "unauthorized: "+message+"\n")
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			fail("missing_header", "missing authorization header")
			return
		}
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			fail("invalid_format", "invalid authorization header format")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			fail("empty_token", "empty token")
			return
		}
		if !tokenAllowed(s.cfg.AllowedTokens, token) {
			fail("invalid_token", "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenAllowed compares token against every allowed token in constant time.
func tokenAllowed(allowed []string, token string) bool {
	ok := 0
	for _, a := range allowed {
		ok |= subtle.ConstantTimeCompare([]byte(a), []byte(token))
	}
	return ok == 1
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	})
}
