package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailrulez/internal/mailbox"
	"github.com/tracyhatemice/mailrulez/internal/mailbox/mailboxtest"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*mailboxtest.Server, mailbox.Conn, *Purger) {
	t.Helper()
	srv := mailboxtest.New()
	srv.Add("Ads", mailbox.Message{From: "old@shop.com", Date: now.AddDate(0, 0, -40)})
	srv.Add("Ads", mailbox.Message{From: "edge@shop.com", Date: now.AddDate(0, 0, -30).Add(time.Minute)})
	srv.Add("Ads", mailbox.Message{From: "new@shop.com", Date: now.AddDate(0, 0, -1)})
	conn, err := srv.Login(context.Background())
	require.NoError(t, err)

	p := New(slog.New(slog.NewTextHandler(io.Discard, nil))).WithClock(func() time.Time { return now })
	return srv, conn, p
}

func TestPurgeOlderThan(t *testing.T) {
	srv, conn, p := setup(t)

	n, err := p.PurgeOlderThan(context.Background(), conn, "Ads", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []mailbox.UID{2, 3}, srv.UIDs("Ads"))
}

func TestPurgeOlderThan_DisabledIsNoop(t *testing.T) {
	for _, days := range []int{0, -5} {
		srv, conn, p := setup(t)

		n, err := p.PurgeOlderThan(context.Background(), conn, "Ads", days)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, srv.Calls, "no mailbox calls when days=%d", days)
	}
}

func TestPurgeOlderThan_NothingOld(t *testing.T) {
	srv, conn, p := setup(t)

	n, err := p.PurgeOlderThan(context.Background(), conn, "Ads", 365)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, srv.CallsFor("expunge"))
}

func TestPurgeOlderThan_Errors(t *testing.T) {
	srv, conn, p := setup(t)
	srv.FailExpunge = errors.New("expunge denied")

	_, err := p.PurgeOlderThan(context.Background(), conn, "Ads", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expunge denied")

	srv.FailFetch = errors.New("gone")
	_, err = p.PurgeOlderThan(context.Background(), conn, "Ads", 30)
	assert.Error(t, err)
}
