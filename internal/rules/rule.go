package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/tracyhatemice/mailrulez/internal/lists"
	"github.com/tracyhatemice/mailrulez/internal/mailbox"
)

// DefaultPriority is assigned to rules stored without a priority.
const DefaultPriority = 100

// ListReader resolves sender lists for sender_in_list conditions.
type ListReader interface {
	Open(name string) (lists.Set, error)
}

// RuleCondition is a single predicate over a message.
type RuleCondition struct {
	Type          ConditionType `json:"type"`
	Value         string        `json:"value"`
	CaseSensitive bool          `json:"case_sensitive"`
}

// Matches evaluates the condition against msg. A sender list that cannot be
// read makes the condition false and is returned as the error.
func (c RuleCondition) Matches(msg mailbox.Message, lr ListReader) (bool, error) {
	switch c.Type {
	case SenderContains:
		return strings.Contains(c.fold(msg.From), c.fold(c.Value)), nil
	case SubjectContains:
		return strings.Contains(c.fold(msg.Subject), c.fold(c.Value)), nil
	case ContentContains:
		return strings.Contains(c.fold(msg.Content), c.fold(c.Value)), nil
	case SenderExact:
		return c.fold(msg.From) == c.fold(c.Value), nil
	case SubjectExact:
		return c.fold(msg.Subject) == c.fold(c.Value), nil
	case SenderDomain:
		if !strings.Contains(msg.From, "@") {
			return false, nil
		}
		return mailbox.Domain(msg.From) == strings.ToLower(c.Value), nil
	case SubjectRegex:
		pattern := c.Value
		if !c.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, nil
		}
		return re.MatchString(msg.Subject), nil
	case SenderInList:
		if lr == nil {
			return false, fmt.Errorf("sender list %q: no list store", c.Value)
		}
		set, err := lr.Open(c.Value)
		if err != nil {
			return false, fmt.Errorf("sender list %q: %w", c.Value, err)
		}
		return set.ContainsFold(mailbox.Address(msg.From)), nil
	}
	return false, nil
}

func (c RuleCondition) fold(s string) string {
	if c.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

// RuleAction is one step executed when a rule matches.
type RuleAction struct {
	Type       ActionType     `json:"type"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters"`
}

// EmailRule is a declarative rule: conditions joined by Logic, and the
// actions to run on a match.
type EmailRule struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Conditions     []RuleCondition `json:"conditions"`
	Actions        []RuleAction    `json:"actions"`
	AccountEmail   string          `json:"account_email"`
	ConditionLogic Logic           `json:"condition_logic"`
	Active         bool            `json:"active"`
	Priority       int             `json:"priority"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// UnmarshalJSON applies the stored-rule defaults: active, priority 100, AND.
func (r *EmailRule) UnmarshalJSON(data []byte) error {
	type plain EmailRule
	aux := struct {
		*plain
		Active   *bool `json:"active"`
		Priority *int  `json:"priority"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Active = aux.Active == nil || *aux.Active
	r.Priority = DefaultPriority
	if aux.Priority != nil {
		r.Priority = *aux.Priority
	}
	r.normalize()
	return nil
}

func (r *EmailRule) normalize() {
	if r.ConditionLogic == "" {
		r.ConditionLogic = LogicAnd
	}
	if r.Conditions == nil {
		r.Conditions = []RuleCondition{}
	}
	if r.Actions == nil {
		r.Actions = []RuleAction{}
	}
	for i := range r.Actions {
		if r.Actions[i].Parameters == nil {
			r.Actions[i].Parameters = map[string]any{}
		}
	}
}

// Validate checks the fields a stored rule must carry.
func (r *EmailRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: rule %s: missing name", ErrInvalidRule, r.ID)
	}
	for i, c := range r.Conditions {
		if !c.Type.Valid() {
			return fmt.Errorf("%w: rule %s: condition %d: %w", ErrInvalidRule, r.ID, i, ErrUnknownTag)
		}
	}
	for i, a := range r.Actions {
		if !a.Type.Valid() {
			return fmt.Errorf("%w: rule %s: action %d: %w", ErrInvalidRule, r.ID, i, ErrUnknownTag)
		}
	}
	return nil
}

// Matches reports whether the rule applies to msg. Inactive rules and rules
// without conditions never match. Errors from sender_in_list lookups are
// returned alongside the result; the failing condition counts as false.
func (r *EmailRule) Matches(msg mailbox.Message, lr ListReader) (bool, error) {
	if !r.Active || len(r.Conditions) == 0 {
		return false, nil
	}

	var errs []error
	eval := func(c RuleCondition) bool {
		ok, err := c.Matches(msg, lr)
		if err != nil {
			errs = append(errs, err)
		}
		return ok
	}

	var matched bool
	if r.ConditionLogic == LogicOr {
		matched = slices.ContainsFunc(r.Conditions, eval)
	} else {
		matched = !slices.ContainsFunc(r.Conditions, func(c RuleCondition) bool { return !eval(c) })
	}
	return matched, errors.Join(errs...)
}

// AppliesTo reports whether the rule is scoped to account (or to all accounts).
func (r *EmailRule) AppliesTo(account string) bool {
	return r.AccountEmail == "" || strings.EqualFold(r.AccountEmail, account)
}

// NeedsContent reports whether evaluating the rule reads the message body.
func (r *EmailRule) NeedsContent() bool {
	return slices.ContainsFunc(r.Conditions, func(c RuleCondition) bool { return c.Type == ContentContains })
}

// Clone returns a deep copy of r.
func (r EmailRule) Clone() EmailRule {
	r.Conditions = slices.Clone(r.Conditions)
	actions := make([]RuleAction, len(r.Actions))
	for i, a := range r.Actions {
		a.Parameters = maps.Clone(a.Parameters)
		actions[i] = a
	}
	r.Actions = actions
	return r
}
