package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/triage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFromDisposition(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log := &triage.DispositionLog{
		Process:     triage.ProcessPrimary,
		Account:     "me@example.com",
		Folder:      "INBOX",
		StartedAt:   start,
		FinishedAt:  start.Add(time.Second),
		Fetched:     4,
		Whitelisted: []mailbox.UID{1},
		Blacklisted: []mailbox.UID{2},
		Vendor:      []mailbox.UID{3},
		Pending:     []mailbox.UID{4},
	}

	e := FromDisposition(log)
	assert.Equal(t, "primary", e.Mode)
	assert.Equal(t, 4, e.Fetched)
	assert.Equal(t, 1, e.Pending)

	var back triage.DispositionLog
	require.NoError(t, json.Unmarshal(e.Detail, &back))
	assert.Equal(t, []mailbox.UID{4}, back.Pending)
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, mode := range []string{triage.ProcessPrimary, triage.ProcessMaintenance, ModeApply} {
		id, err := s.Record(ctx, Entry{
			Mode:       mode,
			Account:    "me@example.com",
			Folder:     "INBOX",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Fetched:    10,
			Matched:    i,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), id)
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ModeApply, recent[0].Mode)
	assert.Equal(t, triage.ProcessMaintenance, recent[1].Mode)
	assert.Equal(t, base.Add(2*time.Hour), recent[0].StartedAt)
	assert.Nil(t, recent[0].Detail)
}

func TestStore_Totals(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	empty, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{}, empty)

	now := time.Now()
	_, err = s.Record(ctx, Entry{Mode: "primary", Account: "a", Folder: "INBOX", StartedAt: now, FinishedAt: now, Fetched: 4, Whitelisted: 1, Pending: 2})
	require.NoError(t, err)
	_, err = s.Record(ctx, Entry{Mode: ModeApply, Account: "a", Folder: "INBOX", StartedAt: now, FinishedAt: now, Fetched: 3, Matched: 2})
	require.NoError(t, err)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{Runs: 2, Fetched: 7, Whitelisted: 1, Pending: 2, Matched: 2}, totals)
}
