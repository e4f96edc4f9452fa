package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tracyhatemice/mailrulez/internal/config"
	"github.com/tracyhatemice/mailrulez/internal/history"
	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/triage"
)

func (s *Server) account(w http.ResponseWriter, r *http.Request) (*config.Account, mailbox.Account, bool) {
	acct, ok := s.cfg.AccountByEmail(chi.URLParam(r, "email"))
	if !ok {
		writeError(w, http.StatusNotFound, "account not configured")
		return nil, mailbox.Account{}, false
	}
	return acct, mailbox.Account{Email: acct.Email, Dialer: s.dial(acct)}, true
}

func folderParam(r *http.Request, acct *config.Account) string {
	if f := r.URL.Query().Get("folder"); f != "" {
		return f
	}
	return acct.GetFolder()
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	acct, mb, ok := s.account(w, r)
	if !ok {
		return
	}
	folder := folderParam(r, acct)
	ctx := r.Context()

	switch mode := chi.URLParam(r, "mode"); mode {
	case triage.ProcessPrimary:
		log, err := s.pipeline.RunPrimary(ctx, mb, folder, queryInt(r, "limit", acct.GetLimit()))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.record(ctx, history.FromDisposition(log))
		writeJSON(w, http.StatusOK, log)

	case triage.ProcessMaintenance:
		log, err := s.pipeline.RunMaintenance(ctx, mb, folder, queryInt(r, "limit", acct.GetMaintenanceLimit()))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.record(ctx, history.FromDisposition(log))
		writeJSON(w, http.StatusOK, log)

	case "batch":
		res, err := s.pipeline.RunBatch(ctx, mb, folder, queryInt(r, "limit", acct.GetLimit()))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.record(ctx, history.FromDisposition(res.Log))
		writeJSON(w, http.StatusOK, res)

	default:
		writeError(w, http.StatusNotFound, "unknown run mode "+mode)
	}
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	acct, mb, ok := s.account(w, r)
	if !ok {
		return
	}
	folder := folderParam(r, acct)

	start := time.Now()
	matched, err := s.engine.Apply(r.Context(), mb, folder, queryInt(r, "limit", acct.GetLimit()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r.Context(), history.Entry{
		Mode:       history.ModeApply,
		Account:    acct.Email,
		Folder:     folder,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Matched:    matched,
	})
	writeJSON(w, http.StatusOK, map[string]any{"account": acct.Email, "folder": folder, "matched": matched})
}

func (s *Server) record(ctx context.Context, e history.Entry) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(ctx, e); err != nil {
		s.logger.Warn("failed to record run", "account", e.Account, "mode", e.Mode, "error", err)
	}
}

func (s *Server) recentRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}
	entries, err := s.history.Recent(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) totals(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}
	t, err := s.history.Totals(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
