package api

import (
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/logging"
	"github.com/nlsql/nlsql/internal/metrics"
)

// requestIDHeader carries the request ID in both directions.
const requestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

// recoveryMiddleware turns a panic into a 500. A DDL statement run without
// permission is a programming error and is logged as such.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			log := logging.FromContext(r.Context(), s.log)
			if ddl, ok := rec.(*database.DDLNotPermittedError); ok {
				log.Error().
					Str("category", ddl.Category.String()).
					Strs("identifiers", ddl.Identifiers).
					Str("path", r.URL.Path).
					Msg("DDL statement reached the executor without permission")
			} else {
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("handler panicked")
			}

			w.Header().Set("Content-Type", "application/json")
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error: "internal server error",
				Kind:  errors.KindUnknown.String(),
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows the configured origins. "*" allows any origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowAny := slices.Contains(s.cfg.CORSOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAny || slices.Contains(s.cfg.CORSOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// loggingMiddleware logs each request and records it under its route
// template so path parameters do not multiply metric series.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, endpoint, wrapped.statusCode, duration)

		reqLog := logging.FromContext(r.Context(), s.log)
		reqLog.Info().
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", wrapped.statusCode).
			Dur("duration", duration).
			Msg("request")
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
