package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/rules"
)

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.List())
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.engine.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.EmailRule
	if err := decode(r, &rule); err != nil {
		s.fail(w, r, err)
		return
	}
	added, err := s.engine.Add(rule)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rule rules.EmailRule
	if err := decode(r, &rule); err != nil {
		s.fail(w, r, err)
		return
	}
	ok, err := s.engine.Update(id, rule)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	updated, _ := s.engine.Get(id)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	ok, err := s.engine.Delete(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type templateInfo struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	out := []templateInfo{}
	for _, key := range rules.TemplateNames() {
		t, _ := rules.LookupTemplate(key)
		out = append(out, templateInfo{Key: key, Name: t.Name, Description: t.Description, Priority: t.Priority})
	}
	writeJSON(w, http.StatusOK, out)
}

type templateRequest struct {
	ID           string `json:"id"`
	AccountEmail string `json:"account_email"`
}

func (s *Server) createFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	added, err := s.engine.AddFromTemplate(chi.URLParam(r, "name"), req.ID, req.AccountEmail)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) accountRules(w http.ResponseWriter, r *http.Request) {
	active := s.engine.ActiveForAccount(chi.URLParam(r, "email"))
	if active == nil {
		active = []rules.EmailRule{}
	}
	writeJSON(w, http.StatusOK, active)
}

type classifyRequest struct {
	Account string          `json:"account"`
	Message mailbox.Message `json:"message"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	actions := s.engine.Classify(req.Message, req.Account)
	if actions == nil {
		actions = []rules.RuleAction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}
