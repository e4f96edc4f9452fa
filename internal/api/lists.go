package api

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
)

func (s *Server) listStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.lists.Stats()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getList(w http.ResponseWriter, r *http.Request) {
	set, err := s.lists.Open(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries := make([]string, 0, len(set))
	for e := range set {
		entries = append(entries, e)
	}
	slices.Sort(entries)
	writeJSON(w, http.StatusOK, entries)
}

type appendRequest struct {
	Senders []string `json:"senders"`
}

func (s *Server) appendList(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	added, err := s.lists.Append(chi.URLParam(r, "name"), req.Senders...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}
