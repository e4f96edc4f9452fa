package triage

import (
	"context"
	"time"

	"github.com/tracyhatemice/mailrulez/internal/mailbox"
)

// BatchResult wraps a primary run with the folder size around it, for
// callers polling how much mail is left. Success is always true; fatal
// failures are returned as errors instead.
type BatchResult struct {
	Success     bool            `json:"success"`
	Account     string          `json:"account"`
	Folder      string          `json:"folder"`
	Before      int             `json:"before"`
	After       int             `json:"after"`
	Processed   int             `json:"processed"`
	Whitelisted int             `json:"whitelisted"`
	Blacklisted int             `json:"blacklisted"`
	Vendor      int             `json:"vendor"`
	Pending     int             `json:"pending"`
	Log         *DispositionLog `json:"log"`
}

// RunBatch counts folder, runs the primary pipeline and counts again on a
// fresh connection. A failed recount reports the initial count.
func (p *Pipeline) RunBatch(ctx context.Context, account mailbox.Account, folder string, limit int) (*BatchResult, error) {
	before, err := p.count(ctx, account, folder)
	if err != nil {
		return nil, err
	}

	log, err := p.RunPrimary(ctx, account, folder, limit)
	if err != nil {
		return nil, err
	}

	after, err := p.count(ctx, account, folder)
	if err != nil {
		p.logger.Warn("recount failed, reporting initial count", "account", account.Email, "folder", folder, "error", err)
		after = before
	}

	return &BatchResult{
		Success:     true,
		Account:     account.Email,
		Folder:      folder,
		Before:      before,
		After:       after,
		Processed:   log.Fetched,
		Whitelisted: len(log.Whitelisted),
		Blacklisted: len(log.Blacklisted),
		Vendor:      len(log.Vendor),
		Pending:     len(log.Pending),
		Log:         log,
	}, nil
}

func (p *Pipeline) count(ctx context.Context, account mailbox.Account, folder string) (int, error) {
	conn, err := account.Dialer.Login(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Logout()
	return conn.Count(ctx, folder)
}

// Watch runs the primary pipeline immediately and then every interval until
// ctx is cancelled. Run errors are logged and the next tick proceeds.
func (p *Pipeline) Watch(ctx context.Context, account mailbox.Account, folder string, limit int, interval time.Duration, done func(*DispositionLog)) {
	p.logger.Info("starting triage watcher", "account", account.Email, "folder", folder, "interval", interval)

	tick := func() {
		log, err := p.RunPrimary(ctx, account, folder, limit)
		if err != nil {
			p.logger.Error("triage run failed", "account", account.Email, "error", err)
			return
		}
		if done != nil {
			done(log)
		}
	}

	tick()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("triage watcher stopped", "account", account.Email)
			return
		case <-ticker.C:
			tick()
		}
	}
}
