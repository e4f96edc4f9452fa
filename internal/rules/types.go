package rules

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTag      = errors.New("unknown tag")
	ErrRuleExists      = errors.New("rule already exists")
	ErrUnknownTemplate = errors.New("unknown rule template")
	ErrInvalidRule     = errors.New("invalid rule")
)

// ConditionType selects the predicate a RuleCondition applies.
type ConditionType int

const (
	SenderContains ConditionType = iota + 1
	SenderDomain
	SenderExact
	SubjectContains
	SubjectExact
	SubjectRegex
	ContentContains
	SenderInList
)

var conditionTags = map[ConditionType]string{
	SenderContains:  "sender_contains",
	SenderDomain:    "sender_domain",
	SenderExact:     "sender_exact",
	SubjectContains: "subject_contains",
	SubjectExact:    "subject_exact",
	SubjectRegex:    "subject_regex",
	ContentContains: "content_contains",
	SenderInList:    "sender_in_list",
}

func (t ConditionType) String() string {
	if tag, ok := conditionTags[t]; ok {
		return tag
	}
	return fmt.Sprintf("ConditionType(%d)", int(t))
}

// Valid reports whether t is one of the defined condition types.
func (t ConditionType) Valid() bool {
	_, ok := conditionTags[t]
	return ok
}

func (t ConditionType) MarshalText() ([]byte, error) {
	tag, ok := conditionTags[t]
	if !ok {
		return nil, fmt.Errorf("condition type %d: %w", int(t), ErrUnknownTag)
	}
	return []byte(tag), nil
}

func (t *ConditionType) UnmarshalText(text []byte) error {
	for k, tag := range conditionTags {
		if tag == string(text) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("condition type %q: %w", text, ErrUnknownTag)
}

// ActionType selects what a RuleAction does.
type ActionType int

const (
	MoveToFolder ActionType = iota + 1
	AddToList
	CreateList
	Forward
	MarkRead
)

var actionTags = map[ActionType]string{
	MoveToFolder: "move_to_folder",
	AddToList:    "add_to_list",
	CreateList:   "create_list",
	Forward:      "forward",
	MarkRead:     "mark_read",
}

func (t ActionType) String() string {
	if tag, ok := actionTags[t]; ok {
		return tag
	}
	return fmt.Sprintf("ActionType(%d)", int(t))
}

// Valid reports whether t is one of the defined action types.
func (t ActionType) Valid() bool {
	_, ok := actionTags[t]
	return ok
}

func (t ActionType) MarshalText() ([]byte, error) {
	tag, ok := actionTags[t]
	if !ok {
		return nil, fmt.Errorf("action type %d: %w", int(t), ErrUnknownTag)
	}
	return []byte(tag), nil
}

func (t *ActionType) UnmarshalText(text []byte) error {
	for k, tag := range actionTags {
		if tag == string(text) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("action type %q: %w", text, ErrUnknownTag)
}

// Logic combines a rule's conditions. Values other than OR behave as AND.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)
