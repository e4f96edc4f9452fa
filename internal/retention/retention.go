// Package retention deletes messages older than a configured age.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/metrics"
)

// Purger removes aged messages from a folder.
type Purger struct {
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Purger using the wall clock.
func New(logger *slog.Logger) *Purger {
	return &Purger{now: time.Now, logger: logger}
}

// WithClock returns a copy of p that reads time from now.
func (p *Purger) WithClock(now func() time.Time) *Purger {
	cp := *p
	cp.now = now
	return &cp
}

// PurgeOlderThan deletes messages in folder dated before now minus days and
// returns how many were removed. days <= 0 disables purging.
func (p *Purger) PurgeOlderThan(ctx context.Context, conn mailbox.Conn, folder string, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}

	cutoff := p.now().AddDate(0, 0, -days)
	old, err := conn.Fetch(ctx, folder, mailbox.Criteria{Before: cutoff}, 0)
	if err != nil {
		metrics.RetentionFailures.Inc()
		return 0, fmt.Errorf("retention fetch %s: %w", folder, err)
	}

	var uids []mailbox.UID
	for _, m := range old {
		if m.Date.Before(cutoff) {
			uids = append(uids, m.UID)
		}
	}
	if len(uids) == 0 {
		return 0, nil
	}

	if err := conn.Flag(ctx, folder, uids, []string{mailbox.FlagDeleted}, true); err != nil {
		metrics.RetentionFailures.Inc()
		return 0, fmt.Errorf("retention flag %s: %w", folder, err)
	}
	if err := conn.Expunge(ctx, folder, uids); err != nil {
		metrics.RetentionFailures.Inc()
		return 0, fmt.Errorf("retention expunge %s: %w", folder, err)
	}

	metrics.RetentionPurged.Add(float64(len(uids)))
	p.logger.Info("retention purge", "folder", folder, "days", days, "deleted", len(uids))
	return len(uids), nil
}
