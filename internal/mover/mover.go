// Package mover moves messages between folders, emulating the move on
// label-based providers where a folder is only a label.
package mover

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/metrics"
)

// Steps reported in a Failure.
const (
	StepMove        = "move"
	StepAddLabel    = "add_label"
	StepRemoveLabel = "remove_label"
)

// Failure describes one UID that did not complete its move.
type Failure struct {
	UID   mailbox.UID `json:"uid"`
	Step  string      `json:"step"`
	Error string      `json:"error"`
}

// Result is the outcome of moving one batch for one account.
type Result struct {
	Account     string        `json:"account"`
	Source      string        `json:"source"`
	Destination string        `json:"destination"`
	Simulated   bool          `json:"simulated"`
	Moved       []mailbox.UID `json:"moved"`
	Failures    []Failure     `json:"failures,omitempty"`
}

// OK reports whether every UID was moved.
func (r Result) OK() bool {
	return len(r.Failures) == 0
}

// Mover picks the move strategy per account.
type Mover struct {
	labelDomains map[string]struct{}
	logger       *slog.Logger
}

// New creates a Mover treating accounts under labelDomains as label-based.
func New(labelDomains []string, logger *slog.Logger) *Mover {
	domains := make(map[string]struct{}, len(labelDomains))
	for _, d := range labelDomains {
		domains[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return &Mover{labelDomains: domains, logger: logger}
}

// IsLabelProvider reports whether account belongs to a label-based provider.
func (m *Mover) IsLabelProvider(account string) bool {
	_, ok := m.labelDomains[mailbox.Domain(account)]
	return ok
}

// Move relocates uids from source to destination. Failures never abort the
// batch; they are returned in the Result.
func (m *Mover) Move(ctx context.Context, conn mailbox.Conn, account string, uids []mailbox.UID, source, destination string) Result {
	res := Result{
		Account:     account,
		Source:      source,
		Destination: destination,
		Simulated:   m.IsLabelProvider(account),
	}
	if len(uids) == 0 {
		return res
	}

	if res.Simulated {
		m.moveByLabel(ctx, conn, uids, &res)
	} else {
		m.moveNative(ctx, conn, uids, &res)
	}

	mode := "native"
	if res.Simulated {
		mode = "label"
	}
	metrics.MovesTotal.WithLabelValues(mode, "moved").Add(float64(len(res.Moved)))
	metrics.MovesTotal.WithLabelValues(mode, "failed").Add(float64(len(res.Failures)))
	return res
}

func (m *Mover) moveNative(ctx context.Context, conn mailbox.Conn, uids []mailbox.UID, res *Result) {
	if err := conn.Move(ctx, res.Source, uids, res.Destination); err != nil {
		m.logger.Warn("move failed",
			"account", res.Account,
			"source", res.Source,
			"destination", res.Destination,
			"count", len(uids),
			"error", err,
		)
		for _, uid := range uids {
			res.Failures = append(res.Failures, Failure{UID: uid, Step: StepMove, Error: err.Error()})
		}
		return
	}
	res.Moved = append(res.Moved, uids...)
}

// moveByLabel copies each message into destination (adding the label) and
// then deletes it from source (dropping the source label).
func (m *Mover) moveByLabel(ctx context.Context, conn mailbox.Conn, uids []mailbox.UID, res *Result) {
	for _, uid := range uids {
		one := []mailbox.UID{uid}

		if err := conn.Copy(ctx, res.Source, one, res.Destination); err != nil {
			m.fail(res, uid, StepAddLabel, err)
			continue
		}
		if err := conn.Flag(ctx, res.Source, one, []string{mailbox.FlagDeleted}, true); err != nil {
			m.fail(res, uid, StepRemoveLabel, err)
			continue
		}
		if err := conn.Expunge(ctx, res.Source, one); err != nil {
			m.fail(res, uid, StepRemoveLabel, err)
			continue
		}
		res.Moved = append(res.Moved, uid)
	}
}

func (m *Mover) fail(res *Result, uid mailbox.UID, step string, err error) {
	m.logger.Warn("label move step failed",
		"account", res.Account,
		"uid", uid,
		"step", step,
		"destination", res.Destination,
		"error", err,
	)
	res.Failures = append(res.Failures, Failure{UID: uid, Step: step, Error: err.Error()})
}
