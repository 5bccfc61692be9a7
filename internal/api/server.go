// Package api serves the nlsql REST API: data file uploads, questions and
// raw SQL, schema inspection, query history, and image folders.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/config"
	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/history"
	"github.com/nlsql/nlsql/internal/images"
	"github.com/nlsql/nlsql/internal/ingest"
	"github.com/nlsql/nlsql/internal/logging"
	"github.com/nlsql/nlsql/internal/metrics"
	"github.com/nlsql/nlsql/internal/service"
)

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and headers.
const multipartOverhead = 1 << 20

// Deps are the components the server routes to. History and Images may be
// nil, in which case their endpoints are not registered.
type Deps struct {
	Query   *service.QueryService
	Tables  *service.TableService
	Loader  *ingest.Loader
	History *history.Store
	Images  *images.Store
}

// Server represents the HTTP API server
type Server struct {
	router *mux.Router
	server *http.Server

	query   *service.QueryService
	tables  *service.TableService
	loader  *ingest.Loader
	history *history.Store
	images  *images.Store

	cfg             config.ServerConfig
	maxUpload       int64
	maxImageUpload  int64
	historyPageSize int
	log             zerolog.Logger
}

// NewServer creates the server and its routes. Nothing listens until Start.
func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		query:           deps.Query,
		tables:          deps.Tables,
		loader:          deps.Loader,
		history:         deps.History,
		images:          deps.Images,
		cfg:             cfg.Server,
		maxUpload:       cfg.Upload.MaxFileSize,
		maxImageUpload:  cfg.Images.MaxFileSize,
		historyPageSize: cfg.History.Limit,
		log:             log.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)

	// Data
	api.HandleFunc("/upload", s.handleUpload).Methods("POST")
	api.HandleFunc("/query", s.handleQuery).Methods("POST")
	api.HandleFunc("/sql", s.handleSQL).Methods("POST")
	api.HandleFunc("/schema", s.handleSchema).Methods("GET")
	api.HandleFunc("/insights", s.handleInsights).Methods("POST")
	api.HandleFunc("/table/{name}", s.handleDropTable).Methods("DELETE")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.history != nil {
		api.HandleFunc("/history", s.handleListHistory).Methods("GET")
		api.HandleFunc("/history", s.handleClearHistory).Methods("DELETE")
		api.HandleFunc("/history/search", s.handleSearchHistory).Methods("GET")
		api.HandleFunc("/history/{id:[0-9]+}", s.handleGetHistory).Methods("GET")
		api.HandleFunc("/history/{id:[0-9]+}", s.handleDeleteHistory).Methods("DELETE")
	}

	if s.images != nil {
		api.HandleFunc("/images/upload", s.handleUploadImages).Methods("POST")
		api.HandleFunc("/images/check-duplicate", s.handleCheckDuplicate).Methods("POST")
		api.HandleFunc("/images", s.handleListImages).Methods("GET")
		api.HandleFunc("/images/{id}", s.handleGetImage).Methods("GET")
		api.HandleFunc("/images/{id}", s.handleDeleteImage).Methods("DELETE")
		api.HandleFunc("/folders", s.handleListFolders).Methods("GET")
		api.HandleFunc("/folders", s.handleCreateFolder).Methods("POST")
		api.HandleFunc("/folders/{name}", s.handleRenameFolder).Methods("PUT")
		api.HandleFunc("/folders/{name}", s.handleDeleteFolder).Methods("DELETE")

		// Raw bytes, so outside the JSON subrouter.
		s.router.HandleFunc("/api/images/{id}/file", s.handleImageFile).Methods("GET")
	}

	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// Handler returns the router wrapped in the recovery and CORS middleware,
// which must also see requests no route matches.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.corsMiddleware(s.router))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.E(errors.Op("api.Start"), errors.KindNetwork, err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Helper functions

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	Identifier string `json:"identifier,omitempty"`
	Rule       string `json:"rule,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.StatusCode(err)
	log := logging.FromContext(r.Context(), s.log)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}

	resp := errorResponse{Error: err.Error(), Kind: errors.GetKind(err).String()}
	resp.Identifier, resp.Rule = errors.Details(err)
	if errors.IsRetryable(err) {
		resp.Retryable = true
		w.Header().Set("Retry-After", "1")
	}
	s.writeJSON(w, status, resp)
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.E(errors.Op("api.decode"), errors.KindValidation, err, "invalid request body")
	}
	return nil
}

// queryInt reads a non-negative integer query parameter, falling back to
// def when absent or malformed and clamping to max.
func queryInt(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
