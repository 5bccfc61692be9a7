package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/service"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.upload"

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errors.E(op, errors.KindValidation, err, "a file field is required"))
		return
	}
	defer file.Close()

	res, err := s.loader.Load(r.Context(), header.Filename, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req service.QueryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.query.Ask(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.query.RunSQL(r.Context(), req.SQL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	tables, err := s.tables.ListTables(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, service.SchemaResponse{Tables: tables, TotalTables: len(tables)})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	var req service.InsightsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.tables.Insights(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.tables.DropTable(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "table " + name + " deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.tables.Health(r.Context())

	status := http.StatusOK
	if health.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}
