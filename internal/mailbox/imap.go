package mailbox

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPDialer logs in to an IMAP/IMAPS server.
type IMAPDialer struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
}

// NewIMAP creates a new IMAP dialer.
func NewIMAP(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *IMAPDialer {
	return &IMAPDialer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
	}
}

// Login dials the server and authenticates. The returned Conn owns the
// network connection until Logout.
func (d *IMAPDialer) Login(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "login", Err: err}
	}

	addr := net.JoinHostPort(d.host, fmt.Sprintf("%d", d.port))

	var client *imapclient.Client
	var err error

	if d.useTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: d.host},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, &ConnectionError{Op: "connect " + addr, Err: err}
	}

	if err := client.Login(d.username, d.password).Wait(); err != nil {
		client.Close()
		return nil, &ConnectionError{Op: "login " + d.username, Err: err}
	}

	d.logger.Debug("imap session opened", "host", d.host, "username", d.username)
	return &imapConn{client: client, logger: d.logger}, nil
}

type imapConn struct {
	client   *imapclient.Client
	selected string
	logger   *slog.Logger
}

func (c *imapConn) selectFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.selected == folder {
		return nil
	}
	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		c.selected = ""
		return fmt.Errorf("imap select %s: %w", folder, err)
	}
	c.selected = folder
	return nil
}

func (c *imapConn) Fetch(ctx context.Context, folder string, criteria Criteria, limit int) ([]Message, error) {
	if err := c.selectFolder(ctx, folder); err != nil {
		return nil, &ConnectionError{Op: "fetch", Err: err}
	}

	searchData, err := c.client.UIDSearch(buildSearchCriteria(criteria), nil).Wait()
	if err != nil {
		return nil, &ConnectionError{Op: "search " + folder, Err: err}
	}

	uids := searchData.AllUIDs()
	slices.Sort(uids)
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
	}
	if criteria.WithContent {
		fetchOptions.BodySection = []*imap.FetchItemBodySection{bodySection}
	}

	buffers, err := c.client.Fetch(imap.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return nil, &ConnectionError{Op: "fetch " + folder, Err: err}
	}

	msgs := make([]Message, 0, len(buffers))
	for _, buf := range buffers {
		msg := Message{UID: UID(buf.UID), Date: buf.InternalDate}
		if buf.Envelope != nil {
			msg.From = envelopeSender(buf.Envelope.From)
			msg.Subject = buf.Envelope.Subject
			if !buf.Envelope.Date.IsZero() {
				msg.Date = buf.Envelope.Date
			}
		}
		if !criteria.Before.IsZero() && !msg.Date.Before(criteria.Before) {
			continue
		}
		if criteria.WithContent {
			msg.Content = BodyText(buf.FindBodySection(bodySection))
		}
		msgs = append(msgs, msg)
	}
	slices.SortFunc(msgs, func(a, b Message) int { return cmp.Compare(a.UID, b.UID) })

	c.logger.Debug("fetched messages", "folder", folder, "count", len(msgs))
	return msgs, nil
}

func (c *imapConn) Move(ctx context.Context, folder string, uids []UID, destination string) error {
	if len(uids) == 0 {
		return nil
	}
	if err := c.selectFolder(ctx, folder); err != nil {
		return err
	}
	if _, err := c.client.Move(uidSet(uids), destination).Wait(); err != nil {
		return fmt.Errorf("imap move to %s: %w", destination, err)
	}
	return nil
}

func (c *imapConn) Copy(ctx context.Context, folder string, uids []UID, destination string) error {
	if len(uids) == 0 {
		return nil
	}
	if err := c.selectFolder(ctx, folder); err != nil {
		return err
	}
	if _, err := c.client.Copy(uidSet(uids), destination).Wait(); err != nil {
		return fmt.Errorf("imap copy to %s: %w", destination, err)
	}
	return nil
}

func (c *imapConn) Flag(ctx context.Context, folder string, uids []UID, flags []string, value bool) error {
	if len(uids) == 0 || len(flags) == 0 {
		return nil
	}
	if err := c.selectFolder(ctx, folder); err != nil {
		return err
	}

	op := imap.StoreFlagsAdd
	if !value {
		op = imap.StoreFlagsDel
	}
	imapFlags := make([]imap.Flag, 0, len(flags))
	for _, f := range flags {
		imapFlags = append(imapFlags, imap.Flag(f))
	}

	store := &imap.StoreFlags{Op: op, Silent: true, Flags: imapFlags}
	if err := c.client.Store(uidSet(uids), store, nil).Close(); err != nil {
		return fmt.Errorf("imap store flags: %w", err)
	}
	return nil
}

func (c *imapConn) Expunge(ctx context.Context, folder string, uids []UID) error {
	if len(uids) == 0 {
		return nil
	}
	if err := c.selectFolder(ctx, folder); err != nil {
		return err
	}

	if err := requireUIDPlus(c.client.Caps()); err != nil {
		return err
	}
	if err := c.client.UIDExpunge(uidSet(uids)).Close(); err != nil {
		return fmt.Errorf("imap expunge: %w", err)
	}
	return nil
}

func (c *imapConn) Count(ctx context.Context, folder string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := c.client.Status(folder, &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		return 0, &ConnectionError{Op: "status " + folder, Err: err}
	}
	if data.NumMessages == nil {
		return 0, nil
	}
	return int(*data.NumMessages), nil
}

func (c *imapConn) Raw(ctx context.Context, folder string, uid UID) ([]byte, error) {
	if err := c.selectFolder(ctx, folder); err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	buffers, err := c.client.Fetch(uidSet([]UID{uid}), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch body %d: %w", uid, err)
	}
	for _, buf := range buffers {
		if content := buf.FindBodySection(bodySection); len(content) > 0 {
			return content, nil
		}
	}
	return nil, fmt.Errorf("imap fetch body %d: message not found", uid)
}

func (c *imapConn) Logout() error {
	logoutErr := c.client.Logout().Wait()
	closeErr := c.client.Close()
	return errors.Join(logoutErr, closeErr)
}

// requireUIDPlus refuses servers without UID EXPUNGE. A plain EXPUNGE
// would also remove unrelated \Deleted messages in the folder.
func requireUIDPlus(caps imap.CapSet) error {
	if !caps.Has(imap.CapUIDPlus) {
		return ErrNoUIDExpunge
	}
	return nil
}

func uidSet(uids []UID) imap.UIDSet {
	set := make([]imap.UID, 0, len(uids))
	for _, u := range uids {
		set = append(set, imap.UID(u))
	}
	return imap.UIDSetNum(set...)
}

func buildSearchCriteria(criteria Criteria) *imap.SearchCriteria {
	search := &imap.SearchCriteria{}
	if !criteria.Before.IsZero() {
		// BEFORE has day granularity; widen by a day and filter exactly after fetch.
		search.Before = criteria.Before.AddDate(0, 0, 1)
	}
	return search
}

func envelopeSender(from []imap.Address) string {
	if len(from) == 0 {
		return ""
	}
	return from[0].Addr()
}
