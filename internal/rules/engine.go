package rules

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracyhatemice/mailrulez/internal/lists"
	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/metrics"
	"github.com/tracyhatemice/mailrulez/internal/mover"
)

// ListStore is the list access the engine needs to evaluate and act.
type ListStore interface {
	ListReader
	Append(name string, senders ...string) (int, error)
	Create(name string) error
}

// Forwarder relays a raw message to another address.
type Forwarder interface {
	Forward(raw []byte, to string, originalID string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithForwarder enables the forward action.
func WithForwarder(f Forwarder) Option {
	return func(e *Engine) { e.forwarder = f }
}

// WithClock overrides the time source used for rule timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine holds the persisted rule set, kept sorted by ascending priority with
// insertion order breaking ties.
type Engine struct {
	mu    sync.RWMutex
	rules []EmailRule

	store     Store
	lists     ListStore
	mover     *mover.Mover
	forwarder Forwarder
	now       func() time.Time
	logger    *slog.Logger
}

// NewEngine creates an engine and loads its rules. A store that cannot be
// read leaves the engine empty; the error is logged, not returned.
func NewEngine(store Store, ls ListStore, mv *mover.Mover, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		lists:  ls,
		mover:  mv,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	_ = e.Load()
	return e
}

// Load replaces the in-memory rules with the stored collection. On any
// decode or validation error the engine is left with no rules.
func (e *Engine) Load() error {
	loaded, err := e.store.Load()
	if err == nil {
		err = validateAll(loaded)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.logger.Error("failed to load rules, continuing with none", "error", err)
		e.rules = nil
		metrics.RulesLoaded.Set(0)
		return err
	}

	e.rules = loaded
	sortRules(e.rules)
	metrics.RulesLoaded.Set(float64(len(e.rules)))
	e.logger.Info("loaded rules", "count", len(e.rules))
	return nil
}

func validateAll(rules []EmailRule) error {
	seen := make(map[string]struct{}, len(rules))
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[rules[i].ID]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidRule, rules[i].ID)
		}
		seen[rules[i].ID] = struct{}{}
	}
	return nil
}

func sortRules(rules []EmailRule) {
	slices.SortStableFunc(rules, func(a, b EmailRule) int { return cmp.Compare(a.Priority, b.Priority) })
}

// commit sorts next, persists it and swaps it in. Callers hold e.mu.
func (e *Engine) commit(next []EmailRule) error {
	sortRules(next)
	if err := e.store.Save(next); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	e.rules = next
	metrics.RulesLoaded.Set(float64(len(next)))
	return nil
}

func (e *Engine) index(id string) int {
	return slices.IndexFunc(e.rules, func(r EmailRule) bool { return r.ID == id })
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Add stores a new rule. An empty id is replaced with a generated one.
func (e *Engine) Add(rule EmailRule) (EmailRule, error) {
	rule = rule.Clone()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.normalize()
	if err := rule.Validate(); err != nil {
		return EmailRule{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index(rule.ID) >= 0 {
		return EmailRule{}, fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}
	ts := e.timestamp()
	if rule.CreatedAt == "" {
		rule.CreatedAt = ts
	}
	rule.UpdatedAt = ts

	next := append(slices.Clone(e.rules), rule)
	if err := e.commit(next); err != nil {
		return EmailRule{}, err
	}
	e.logger.Info("rule added", "rule_id", rule.ID, "name", rule.Name, "priority", rule.Priority)
	return rule.Clone(), nil
}

// AddFromTemplate instantiates a template for account (empty for all
// accounts) and stores it.
func (e *Engine) AddFromTemplate(name, id, account string) (EmailRule, error) {
	rule, err := FromTemplate(name, id)
	if err != nil {
		return EmailRule{}, err
	}
	rule.AccountEmail = account
	return e.Add(rule)
}

// Update replaces the rule with the given id. It reports false, with no
// error, when no such rule exists.
func (e *Engine) Update(id string, rule EmailRule) (bool, error) {
	rule = rule.Clone()
	rule.ID = id
	rule.normalize()
	if err := rule.Validate(); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.index(id)
	if i < 0 {
		return false, nil
	}
	if rule.CreatedAt == "" {
		rule.CreatedAt = e.rules[i].CreatedAt
	}
	rule.UpdatedAt = e.timestamp()

	next := slices.Clone(e.rules)
	next[i] = rule
	if err := e.commit(next); err != nil {
		return false, err
	}
	e.logger.Info("rule updated", "rule_id", id, "priority", rule.Priority)
	return true, nil
}

// Delete removes the rule with the given id. It reports false, with no
// error, when no such rule exists.
func (e *Engine) Delete(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.index(id)
	if i < 0 {
		return false, nil
	}
	next := slices.Delete(slices.Clone(e.rules), i, i+1)
	if err := e.commit(next); err != nil {
		return false, err
	}
	e.logger.Info("rule deleted", "rule_id", id)
	return true, nil
}

// Get returns the rule with the given id.
func (e *Engine) Get(id string) (EmailRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	i := e.index(id)
	if i < 0 {
		return EmailRule{}, false
	}
	return e.rules[i].Clone(), true
}

// List returns every rule in priority order.
func (e *Engine) List() []EmailRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]EmailRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Clone())
	}
	return out
}

// ActiveForAccount returns the active rules scoped to account or to all
// accounts, in priority order.
func (e *Engine) ActiveForAccount(account string) []EmailRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []EmailRule
	for _, r := range e.rules {
		if r.Active && r.AppliesTo(account) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Classify collects the actions of every rule matching msg for account.
// Matches accumulate in priority order; an earlier match does not stop
// later rules from contributing.
func (e *Engine) Classify(msg mailbox.Message, account string) []RuleAction {
	var actions []RuleAction
	for _, rule := range e.ActiveForAccount(account) {
		if e.matches(&rule, msg) {
			actions = append(actions, rule.Actions...)
		}
	}
	return actions
}

func (e *Engine) matches(rule *EmailRule, msg mailbox.Message) bool {
	ok, err := rule.Matches(msg, e.lists)
	if err != nil {
		e.logger.Warn("rule condition could not be evaluated",
			"rule_id", rule.ID,
			"uid", msg.UID,
			"error", err,
		)
	}
	return ok
}

// Lists exposes the engine's list store.
func (e *Engine) Lists() ListStore {
	return e.lists
}

var _ ListStore = (*lists.Store)(nil)
