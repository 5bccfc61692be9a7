package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/history"
)

const maxPageSize = 1000

type historyListResponse struct {
	Entries []history.Entry `json:"entries"`
	Total   int             `json:"total"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", s.historyPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 0)

	entries, err := s.history.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := s.history.Count(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, historyListResponse{Entries: entries, Total: total})
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", s.historyPageSize, maxPageSize)

	entries, err := s.history.Search(r.Context(), q, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, historyListResponse{Entries: entries, Total: len(entries)})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := historyID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.history.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := historyID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.history.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "history entry deleted"})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.history.Clear(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: strconv.Itoa(n) + " history entries deleted"})
}

func historyID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, errors.E(errors.Op("api.historyID"), errors.KindValidation, "invalid history id")
	}
	return id, nil
}
