package web

import (
	"net/http"
	"strconv"
)

const defaultRunLimit = 50

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	history, err := s.service.ListRuns(r.Context(), r.URL.Query().Get("sku"), limit)
	if err != nil {
		s.fail(w, "list runs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "get run", err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}
