package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/metrics"
)

// ErrNoForwarder is returned by the forward action when no SMTP relay is set.
var ErrNoForwarder = errors.New("forward action requires a configured sender")

// Apply fetches up to limit messages from folder and runs the actions of the
// first matching rule on each one. It returns the number of matched
// messages. Login and fetch failures abort the call; action failures are
// logged and processing continues.
func (e *Engine) Apply(ctx context.Context, account mailbox.Account, folder string, limit int) (int, error) {
	rules := e.ActiveForAccount(account.Email)

	conn, err := account.Dialer.Login(ctx)
	if err != nil {
		e.logger.Error("rule apply: login failed", "account", account.Email, "error", err)
		return 0, err
	}
	defer func() {
		if err := conn.Logout(); err != nil {
			e.logger.Debug("logout failed", "account", account.Email, "error", err)
		}
	}()

	criteria := mailbox.Criteria{}
	for i := range rules {
		if rules[i].NeedsContent() {
			criteria.WithContent = true
			break
		}
	}

	msgs, err := conn.Fetch(ctx, folder, criteria, limit)
	if err != nil {
		e.logger.Error("rule apply: fetch failed", "account", account.Email, "folder", folder, "error", err)
		return 0, err
	}

	matched := 0
	for _, msg := range msgs {
		for i := range rules {
			rule := &rules[i]
			if !e.matches(rule, msg) {
				continue
			}
			matched++
			metrics.RuleMatches.Inc()
			e.logger.Info("rule matched",
				"account", account.Email,
				"rule_id", rule.ID,
				"uid", msg.UID,
				"subject", msg.Subject,
			)
			for _, action := range rule.Actions {
				err := e.execute(ctx, conn, account.Email, folder, msg, action)
				status := "ok"
				if err != nil {
					status = "error"
					e.logger.Error("rule action failed",
						"account", account.Email,
						"rule_id", rule.ID,
						"uid", msg.UID,
						"action", action.Type.String(),
						"target", action.Target,
						"error", err,
					)
				}
				metrics.RuleActions.WithLabelValues(action.Type.String(), status).Inc()
			}
			break
		}
	}

	e.logger.Info("rule apply finished",
		"account", account.Email,
		"folder", folder,
		"fetched", len(msgs),
		"matched", matched,
	)
	return matched, nil
}

func (e *Engine) execute(ctx context.Context, conn mailbox.Conn, account, folder string, msg mailbox.Message, action RuleAction) error {
	uids := []mailbox.UID{msg.UID}

	switch action.Type {
	case MoveToFolder:
		res := e.mover.Move(ctx, conn, account, uids, folder, action.Target)
		if !res.OK() {
			return fmt.Errorf("move to %s: %s", action.Target, res.Failures[0].Error)
		}
		return nil

	case AddToList:
		if _, err := e.lists.Append(action.Target, mailbox.Address(msg.From)); err != nil {
			return fmt.Errorf("add to list %s: %w", action.Target, err)
		}
		return nil

	case CreateList:
		if err := e.lists.Create(action.Target); err != nil {
			return fmt.Errorf("create list %s: %w", action.Target, err)
		}
		return nil

	case MarkRead:
		return conn.Flag(ctx, folder, uids, []string{mailbox.FlagSeen}, true)

	case Forward:
		if e.forwarder == nil {
			return ErrNoForwarder
		}
		raw, err := conn.Raw(ctx, folder, msg.UID)
		if err != nil {
			return err
		}
		return e.forwarder.Forward(raw, action.Target, fmt.Sprintf("%s/%d", folder, msg.UID))
	}
	return fmt.Errorf("%w: %s", ErrUnknownTag, action.Type)
}
