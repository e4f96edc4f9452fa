package rules

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailrulez/internal/lists"
	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/mover"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is a Store whose failures can be switched on.
type memStore struct {
	rules   []EmailRule
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load() ([]EmailRule, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]EmailRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *memStore) Save(rules []EmailRule) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.rules = rules
	return nil
}

func newTestEngine(t *testing.T, store Store, opts ...Option) (*Engine, *lists.Store) {
	t.Helper()
	ls, err := lists.NewStore(t.TempDir())
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return NewEngine(store, ls, mover.New([]string{"gmail.com"}, testLogger()), testLogger(), opts...), ls
}

func rule(id string, priority int, conds ...RuleCondition) EmailRule {
	return EmailRule{
		ID:             id,
		Name:           id,
		Active:         true,
		Priority:       priority,
		ConditionLogic: LogicAnd,
		Conditions:     conds,
		Actions:        []RuleAction{{Type: MoveToFolder, Target: "INBOX." + id}},
	}
}

func ids(rules []EmailRule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

func TestEngine_PriorityOrder(t *testing.T) {
	e, _ := newTestEngine(t, &memStore{})

	for _, r := range []EmailRule{rule("p80", 80), rule("p50", 50), rule("p70", 70), rule("p60", 60)} {
		_, err := e.Add(r)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"p50", "p60", "p70", "p80"}, ids(e.List()))
}

func TestEngine_EqualPriorityKeepsInsertionOrder(t *testing.T) {
	e, _ := newTestEngine(t, &memStore{})
	for _, id := range []string{"first", "second", "third"} {
		_, err := e.Add(rule(id, 10))
		require.NoError(t, err)
	}
	_, err := e.Add(rule("early", 5))
	require.NoError(t, err)

	assert.Equal(t, []string{"early", "first", "second", "third"}, ids(e.List()))
}

func TestEngine_ExtremePriorities(t *testing.T) {
	e, _ := newTestEngine(t, &memStore{})

	for _, r := range []EmailRule{rule("max", math.MaxInt), rule("min", math.MinInt), rule("one", 1)} {
		_, err := e.Add(r)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"min", "one", "max"}, ids(e.List()))
}

func TestEngine_LoadSortsStoredRules(t *testing.T) {
	store := &memStore{rules: []EmailRule{rule("b", 90), rule("a", 10)}}
	e, _ := newTestEngine(t, store)
	assert.Equal(t, []string{"a", "b"}, ids(e.List()))
}

func TestEngine_LoadFailsOpen(t *testing.T) {
	e, _ := newTestEngine(t, &memStore{loadErr: errors.New("corrupt")})
	assert.Empty(t, e.List())

	dup := &memStore{rules: []EmailRule{rule("a", 1), rule("a", 2)}}
	e, _ = newTestEngine(t, dup)
	assert.Empty(t, e.List())
	assert.ErrorIs(t, e.Load(), ErrInvalidRule)
}

func TestEngine_AddAssignsIDAndTimestamps(t *testing.T) {
	store := &memStore{}
	e, _ := newTestEngine(t, store)

	r := rule("", 10)
	r.Name = "no id"
	added, err := e.Add(r)
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "2026-03-01T12:00:00Z", added.CreatedAt)
	assert.Equal(t, added.CreatedAt, added.UpdatedAt)
	assert.Equal(t, 1, store.saves)

	_, err = e.Add(added)
	assert.ErrorIs(t, err, ErrRuleExists)

	_, err = e.Add(EmailRule{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestEngine_UpdateAndDelete(t *testing.T) {
	e, _ := newTestEngine(t, &memStore{})
	_, err := e.Add(rule("a", 10))
	require.NoError(t, err)
	_, err = e.Add(rule("b", 20))
	require.NoError(t, err)

	changed := rule("ignored", 30)
	changed.Name = "renamed"
	ok, err := e.Update("a", changed)
	require.NoError(t, err)
	assert.True(t, ok)

	got, found := e.Get("a")
	require.True(t, found)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "2026-03-01T12:00:00Z", got.CreatedAt)
	assert.Equal(t, []string{"b", "a"}, ids(e.List()))

	ok, err = e.Update("missing", rule("missing", 1))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Delete("b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Delete("b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, ids(e.List()))
}

func TestEngine_SaveFailureKeepsPreviousRules(t *testing.T) {
	store := &memStore{}
	e, _ := newTestEngine(t, store)
	_, err := e.Add(rule("a", 10))
	require.NoError(t, err)

	store.saveErr = errors.New("disk full")
	_, err = e.Add(rule("b", 5))
	assert.Error(t, err)
	ok, err := e.Delete("a")
	assert.Error(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"a"}, ids(e.List()))
}

func TestEngine_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	e, _ := newTestEngine(t, NewFileStore(path))
	_, err := e.AddFromTemplate("linkedin", "li", "me@example.com")
	require.NoError(t, err)

	reloaded, _ := newTestEngine(t, NewFileStore(path))
	got, ok := reloaded.Get("li")
	require.True(t, ok)
	assert.Equal(t, "me@example.com", got.AccountEmail)
	assert.Equal(t, 70, got.Priority)
}

func TestEngine_AddFromUnknownTemplate(t *testing.T) {
	e, _ := newTestEngine(t, &memStore{})
	_, err := e.AddFromTemplate("nope", "", "")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestEngine_ActiveForAccount(t *testing.T) {
	e, _ := newTestEngine(t, &memStore{})

	all := rule("all", 10)
	mine := rule("mine", 20)
	mine.AccountEmail = "me@example.com"
	theirs := rule("theirs", 30)
	theirs.AccountEmail = "you@example.com"
	off := rule("off", 5)
	off.Active = false

	for _, r := range []EmailRule{all, mine, theirs, off} {
		_, err := e.Add(r)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"all", "mine"}, ids(e.ActiveForAccount("ME@example.com")))
}

func TestEngine_ClassifyIsCumulative(t *testing.T) {
	e, _ := newTestEngine(t, &memStore{})

	ups := rule("ups", 50, RuleCondition{Type: SenderDomain, Value: "ups.com"})
	invoice := rule("invoice", 60, RuleCondition{Type: SubjectContains, Value: "invoice"})
	other := rule("other", 40, RuleCondition{Type: SenderDomain, Value: "fedex.com"})
	for _, r := range []EmailRule{invoice, ups, other} {
		_, err := e.Add(r)
		require.NoError(t, err)
	}

	actions := e.Classify(mailbox.Message{From: "billing@ups.com", Subject: "Your invoice"}, "me@example.com")
	require.Len(t, actions, 2)
	assert.Equal(t, "INBOX.ups", actions[0].Target)
	assert.Equal(t, "INBOX.invoice", actions[1].Target)

	assert.Empty(t, e.Classify(mailbox.Message{From: "a@b.com", Subject: "hi"}, "me@example.com"))
}

func TestEngine_ClassifySenderInList(t *testing.T) {
	e, ls := newTestEngine(t, &memStore{})
	_, err := ls.Append("vip", "boss@corp.com")
	require.NoError(t, err)

	_, err = e.Add(rule("vip", 10, RuleCondition{Type: SenderInList, Value: "vip"}))
	require.NoError(t, err)

	assert.Len(t, e.Classify(mailbox.Message{From: "The Boss <BOSS@corp.com>"}, ""), 1)
	assert.Empty(t, e.Classify(mailbox.Message{From: "intern@corp.com"}, ""))
}
