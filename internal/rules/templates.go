package rules

import (
	"fmt"
	"sort"
)

// Template is a prebuilt rule shape.
type Template struct {
	Name           string
	Description    string
	Conditions     []RuleCondition
	Actions        []RuleAction
	ConditionLogic Logic
	Priority       int
}

func domains(values ...string) []RuleCondition {
	out := make([]RuleCondition, 0, len(values))
	for _, v := range values {
		out = append(out, RuleCondition{Type: SenderDomain, Value: v})
	}
	return out
}

func subjects(values ...string) []RuleCondition {
	out := make([]RuleCondition, 0, len(values))
	for _, v := range values {
		out = append(out, RuleCondition{Type: SubjectContains, Value: v})
	}
	return out
}

var templates = map[string]Template{
	"package_delivery": {
		Name:        "Package Delivery",
		Description: "Automatically organize package delivery notifications",
		Conditions:  domains("fedex.com", "ups.com", "usps.com", "amazon.com", "dhl.com"),
		Actions: []RuleAction{
			{Type: MoveToFolder, Target: "INBOX.Packages"},
			{Type: AddToList, Target: "packages.txt"},
		},
		ConditionLogic: LogicOr,
		Priority:       50,
	},
	"receipts_invoices": {
		Name:        "Receipts & Invoices",
		Description: "Organize financial documents and receipts",
		Conditions:  subjects("invoice", "receipt", "bill", "statement", "payment"),
		Actions: []RuleAction{
			{Type: MoveToFolder, Target: "INBOX.Receipts"},
			{Type: AddToList, Target: "receipts.txt"},
		},
		ConditionLogic: LogicOr,
		Priority:       60,
	},
	"linkedin": {
		Name:        "LinkedIn Notifications",
		Description: "Organize LinkedIn professional networking emails",
		Conditions:  domains("linkedin.com"),
		Actions: []RuleAction{
			{Type: MoveToFolder, Target: "INBOX.LinkedIn"},
			{Type: AddToList, Target: "linkedin.txt"},
		},
		ConditionLogic: LogicAnd,
		Priority:       70,
	},
	// Training-folder rule: no conditions, so it only runs when applied by hand.
	"head_hunter": {
		Name:        "Head Hunter Recruiters - Training Only",
		Description: "Training folder rule for headhunter emails. Adds sender to head list and moves to HeadHunt folder. Use training folder INBOX._headhunter for manual categorization.",
		Actions: []RuleAction{
			{Type: AddToList, Target: "head.txt"},
			{Type: MoveToFolder, Target: "INBOX.HeadHunt"},
		},
		ConditionLogic: LogicAnd,
		Priority:       80,
	},
}

// TemplateNames lists the available templates, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupTemplate returns the named template.
func LookupTemplate(name string) (Template, bool) {
	t, ok := templates[name]
	return t, ok
}

// FromTemplate instantiates an active rule with the given id.
func FromTemplate(name, id string) (EmailRule, error) {
	t, ok := templates[name]
	if !ok {
		return EmailRule{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	rule := EmailRule{
		ID:             id,
		Name:           t.Name,
		Description:    t.Description,
		Conditions:     t.Conditions,
		Actions:        t.Actions,
		ConditionLogic: t.ConditionLogic,
		Active:         true,
		Priority:       t.Priority,
	}.Clone()
	rule.normalize()
	return rule, nil
}
