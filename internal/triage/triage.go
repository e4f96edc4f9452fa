// Package triage routes a mailbox folder by sender list membership.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tracyhatemice/mailrulez/internal/config"
	"github.com/tracyhatemice/mailrulez/internal/lists"
	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/metrics"
	"github.com/tracyhatemice/mailrulez/internal/mover"
	"github.com/tracyhatemice/mailrulez/internal/retention"
)

// Run modes.
const (
	ProcessPrimary     = "primary"
	ProcessMaintenance = "maintenance"
)

// InboxFolder is the only folder whose unmatched mail is sent to pending.
const InboxFolder = "INBOX"

// Hook is a pre-processing callback run once per pipeline run, before the
// lists are read. A failing hook is logged and recorded; the run continues.
type Hook func(ctx context.Context, account mailbox.Account) error

// ListReader is the list access the pipeline needs.
type ListReader interface {
	Open(name string) (lists.Set, error)
}

// Retention describes the purge attempted after vendor moves.
type Retention struct {
	Folder  string `json:"folder"`
	Days    int    `json:"days"`
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// DispositionLog is the outcome of one pipeline run.
type DispositionLog struct {
	Process    string    `json:"process"`
	Account    string    `json:"account"`
	Folder     string    `json:"folder"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	WhitelistCount int `json:"whitelist_count"`
	BlacklistCount int `json:"blacklist_count"`
	VendorCount    int `json:"vendor_count"`
	Fetched        int `json:"fetched"`

	Whitelisted []mailbox.UID `json:"whitelisted"`
	Blacklisted []mailbox.UID `json:"blacklisted"`
	Vendor      []mailbox.UID `json:"vendor"`
	Pending     []mailbox.UID `json:"pending"`

	Moves      []mover.Result `json:"moves,omitempty"`
	Retention  *Retention     `json:"retention,omitempty"`
	HookErrors []string       `json:"hook_errors,omitempty"`
}

// MoveFailures returns the number of UIDs whose move did not complete.
func (l *DispositionLog) MoveFailures() int {
	n := 0
	for _, m := range l.Moves {
		n += len(m.Failures)
	}
	return n
}

// Pipeline runs the list-based triage for any configured account.
type Pipeline struct {
	cfg    *config.Config
	lists  ListReader
	mover  *mover.Mover
	purger *retention.Purger
	hooks  []Hook
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Pipeline. Hooks run in the order given.
func New(cfg *config.Config, ls ListReader, mv *mover.Mover, purger *retention.Purger, logger *slog.Logger, hooks ...Hook) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		lists:  ls,
		mover:  mv,
		purger: purger,
		hooks:  hooks,
		now:    time.Now,
		logger: logger,
	}
}

// RunPrimary triages a fresh folder, moving whitelisted mail to the
// processed folder.
func (p *Pipeline) RunPrimary(ctx context.Context, account mailbox.Account, folder string, limit int) (*DispositionLog, error) {
	return p.run(ctx, ProcessPrimary, account, folder, limit)
}

// RunMaintenance triages an already-processed folder. Whitelisted mail is
// left where it is.
func (p *Pipeline) RunMaintenance(ctx context.Context, account mailbox.Account, folder string, limit int) (*DispositionLog, error) {
	return p.run(ctx, ProcessMaintenance, account, folder, limit)
}

func (p *Pipeline) run(ctx context.Context, process string, account mailbox.Account, folder string, limit int) (log *DispositionLog, err error) {
	start := p.now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.RunsTotal.WithLabelValues(process, result).Inc()
		metrics.RunDuration.WithLabelValues(process).Observe(time.Since(start).Seconds())
	}()

	log = &DispositionLog{
		Process:   process,
		Account:   account.Email,
		Folder:    folder,
		StartedAt: start,
	}

	for i, hook := range p.hooks {
		if err := hook(ctx, account); err != nil {
			p.logger.Warn("pre-processing hook failed", "account", account.Email, "hook", i, "error", err)
			log.HookErrors = append(log.HookErrors, err.Error())
		}
	}

	white, err := p.lists.Open(lists.White)
	if err != nil {
		return nil, fmt.Errorf("load whitelist: %w", err)
	}
	black, err := p.lists.Open(lists.Black)
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	vendor, err := p.lists.Open(lists.Vendor)
	if err != nil {
		return nil, fmt.Errorf("load vendor list: %w", err)
	}
	log.WhitelistCount = len(white)
	log.BlacklistCount = len(black)
	log.VendorCount = len(vendor)

	conn, err := account.Dialer.Login(ctx)
	if err != nil {
		p.logger.Error("login failed", "account", account.Email, "error", err)
		return nil, err
	}
	defer func() {
		if err := conn.Logout(); err != nil {
			p.logger.Debug("logout failed", "account", account.Email, "error", err)
		}
	}()

	msgs, err := conn.Fetch(ctx, folder, mailbox.Criteria{}, limit)
	if err != nil {
		p.logger.Error("fetch failed", "account", account.Email, "folder", folder, "error", err)
		return nil, err
	}
	log.Fetched = len(msgs)

	log.Whitelisted = []mailbox.UID{}
	log.Blacklisted = []mailbox.UID{}
	log.Vendor = []mailbox.UID{}
	log.Pending = []mailbox.UID{}
	for _, m := range msgs {
		if white.Contains(m.From) {
			log.Whitelisted = append(log.Whitelisted, m.UID)
		}
		if black.Contains(m.From) {
			log.Blacklisted = append(log.Blacklisted, m.UID)
		}
		if vendor.Contains(m.From) {
			log.Vendor = append(log.Vendor, m.UID)
		}
	}

	folders := p.cfg.FoldersFor(account.Email)

	for _, group := range destinations(process, log, folders) {
		p.move(ctx, conn, log, group.uids, group.folder)
	}

	if len(log.Vendor) > 0 {
		if days := p.cfg.RetentionDays("approved_ads"); days > 0 {
			log.Retention = p.purge(ctx, conn, account.Email, folders.ApprovedAds, days)
		}
	}

	if folder == InboxFolder {
		for _, m := range msgs {
			if !white.Contains(m.From) && !black.Contains(m.From) && !vendor.Contains(m.From) {
				log.Pending = append(log.Pending, m.UID)
			}
		}
		p.move(ctx, conn, log, log.Pending, folders.Pending)
	}

	metrics.MessagesDispositioned.WithLabelValues("whitelist").Add(float64(len(log.Whitelisted)))
	metrics.MessagesDispositioned.WithLabelValues("blacklist").Add(float64(len(log.Blacklisted)))
	metrics.MessagesDispositioned.WithLabelValues("vendor").Add(float64(len(log.Vendor)))
	metrics.MessagesDispositioned.WithLabelValues("pending").Add(float64(len(log.Pending)))

	log.FinishedAt = p.now()
	p.logger.Info("triage finished",
		"process", process,
		"account", account.Email,
		"folder", folder,
		"fetched", log.Fetched,
		"whitelisted", len(log.Whitelisted),
		"blacklisted", len(log.Blacklisted),
		"vendor", len(log.Vendor),
		"pending", len(log.Pending),
		"move_failures", log.MoveFailures(),
	)
	return log, nil
}

type moveGroup struct {
	folder string
	uids   []mailbox.UID
}

// destinations resolves one final folder per UID. A UID in several buckets
// goes where the last applicable move would put it: vendor over blacklist
// over whitelist. Whitelisted mail only moves in primary runs.
func destinations(process string, log *DispositionLog, folders config.Folders) []moveGroup {
	groups := []moveGroup{{folder: folders.Processed}, {folder: folders.Junk}, {folder: folders.ApprovedAds}}
	final := make(map[mailbox.UID]int)
	if process == ProcessPrimary {
		for _, uid := range log.Whitelisted {
			final[uid] = 0
		}
	}
	for _, uid := range log.Blacklisted {
		final[uid] = 1
	}
	for _, uid := range log.Vendor {
		final[uid] = 2
	}

	seen := make(map[mailbox.UID]bool, len(final))
	for _, bucket := range [][]mailbox.UID{log.Whitelisted, log.Blacklisted, log.Vendor} {
		for _, uid := range bucket {
			i, ok := final[uid]
			if !ok || seen[uid] {
				continue
			}
			seen[uid] = true
			groups[i].uids = append(groups[i].uids, uid)
		}
	}
	for i := range groups {
		slices.Sort(groups[i].uids)
	}
	return groups
}

func (p *Pipeline) move(ctx context.Context, conn mailbox.Conn, log *DispositionLog, uids []mailbox.UID, destination string) {
	if len(uids) == 0 {
		return
	}
	res := p.mover.Move(ctx, conn, log.Account, uids, log.Folder, destination)
	log.Moves = append(log.Moves, res)
}

func (p *Pipeline) purge(ctx context.Context, conn mailbox.Conn, account, folder string, days int) *Retention {
	r := &Retention{Folder: folder, Days: days}
	deleted, err := p.purger.PurgeOlderThan(ctx, conn, folder, days)
	if err != nil {
		p.logger.Warn("retention purge failed", "account", account, "folder", folder, "error", err)
		r.Error = fmt.Sprintf("could not apply retention policy: %v", err)
		return r
	}
	r.Deleted = deleted
	return r
}
