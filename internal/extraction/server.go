package extraction

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Server handles HTTP requests for the review API
type Server struct {
	service   *Service
	jwtSecret []byte
	router    *mux.Router
}

// NewServer creates a new Server with a fresh router. An empty jwtSecret
// disables authentication.
func NewServer(service *Service, jwtSecret []byte) *Server {
	return NewServerWithRouter(service, jwtSecret, mux.NewRouter())
}

// NewServerWithRouter creates a new Server with a custom router for testing
func NewServerWithRouter(service *Service, jwtSecret []byte, router *mux.Router) *Server {
	s := &Server{
		service:   service,
		jwtSecret: jwtSecret,
		router:    router,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)

	api.HandleFunc("/invoices", s.handleUploadInvoice).Methods(http.MethodPost)
	api.HandleFunc("/extractions", s.handleListExtractions).Methods(http.MethodGet)
	api.HandleFunc("/extractions/{id}", s.handleGetExtraction).Methods(http.MethodGet)
	api.HandleFunc("/extractions/{id}/file", s.handleGetInvoiceFile).Methods(http.MethodGet)
	api.HandleFunc("/extractions/{id}/review", s.handleReviewExtraction).Methods(http.MethodPost)
	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/vendors", s.handleListVendors).Methods(http.MethodGet)
	api.HandleFunc("/export.csv", s.handleExportCSV).Methods(http.MethodGet)
}

// Start serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr, "auth", len(s.jwtSecret) > 0)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler. CORS wraps the router so preflight
// requests are answered even though no route matches OPTIONS.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsMiddleware(s.router).ServeHTTP(w, r)
}
