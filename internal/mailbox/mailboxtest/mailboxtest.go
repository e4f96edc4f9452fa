// Package mailboxtest provides an in-memory mailbox for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tracyhatemice/mailrulez/internal/mailbox"
)

// Call records one operation issued against a Conn.
type Call struct {
	Op     string
	Folder string
	UIDs   []mailbox.UID
	Target string
}

type stored struct {
	msg   mailbox.Message
	flags map[string]bool
	raw   []byte
}

// Server is an in-memory mailbox that implements mailbox.Dialer. Moves and
// copies keep the message UID so tests can follow a message across folders.
type Server struct {
	mu      sync.Mutex
	folders map[string][]*stored
	nextUID mailbox.UID

	// Failure injection. Nil means success.
	FailLogin   func(attempt int) error
	FailFetch   error
	FailMove    map[string]error      // keyed by destination folder
	FailCopy    map[mailbox.UID]error // keyed by UID
	FailFlag    map[mailbox.UID]error // keyed by UID
	FailExpunge error
	FailCount   error
	FailRaw     error

	Logins  int
	Logouts int
	Calls   []Call
}

// New returns an empty server with an INBOX.
func New() *Server {
	return &Server{folders: map[string][]*stored{"INBOX": nil}}
}

// Add stores msg in folder, assigning a UID when msg.UID is zero, and returns the UID.
func (s *Server) Add(folder string, msg mailbox.Message) mailbox.UID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.UID == 0 {
		s.nextUID++
		msg.UID = s.nextUID
	} else if msg.UID > s.nextUID {
		s.nextUID = msg.UID
	}
	raw := []byte(fmt.Sprintf("From: %s\r\nSubject: %s\r\n\r\n%s\r\n", msg.From, msg.Subject, msg.Content))
	s.folders[folder] = append(s.folders[folder], &stored{msg: msg, flags: map[string]bool{}, raw: raw})
	return msg.UID
}

// UIDs lists the UIDs currently in folder.
func (s *Server) UIDs(folder string) []mailbox.UID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mailbox.UID
	for _, st := range s.folders[folder] {
		out = append(out, st.msg.UID)
	}
	return out
}

// HasFlag reports whether uid in folder carries flag.
func (s *Server) HasFlag(folder string, uid mailbox.UID, flag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.folders[folder] {
		if st.msg.UID == uid {
			return st.flags[flag]
		}
	}
	return false
}

// CallsFor returns the recorded calls with the given op.
func (s *Server) CallsFor(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Open reports the number of sessions not yet logged out.
func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Logins - s.Logouts
}

// Login implements mailbox.Dialer.
func (s *Server) Login(ctx context.Context) (mailbox.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt := s.Logins + 1
	if s.FailLogin != nil {
		if err := s.FailLogin(attempt); err != nil {
			return nil, &mailbox.ConnectionError{Op: "login", Err: err}
		}
	}
	s.Logins = attempt
	return &conn{s: s}, nil
}

type conn struct {
	s      *Server
	closed bool
}

func (c *conn) record(call Call) {
	c.s.Calls = append(c.s.Calls, call)
}

func (c *conn) Fetch(ctx context.Context, folder string, criteria mailbox.Criteria, limit int) ([]mailbox.Message, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.record(Call{Op: "fetch", Folder: folder})
	if c.s.FailFetch != nil {
		return nil, &mailbox.ConnectionError{Op: "fetch", Err: c.s.FailFetch}
	}
	var out []mailbox.Message
	for _, st := range c.s.folders[folder] {
		if !criteria.Before.IsZero() && !st.msg.Date.Before(criteria.Before) {
			continue
		}
		msg := st.msg
		if !criteria.WithContent {
			msg.Content = ""
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *conn) take(folder string, uids []mailbox.UID) []*stored {
	var taken, kept []*stored
	for _, st := range c.s.folders[folder] {
		if slices.Contains(uids, st.msg.UID) {
			taken = append(taken, st)
		} else {
			kept = append(kept, st)
		}
	}
	c.s.folders[folder] = kept
	return taken
}

func (c *conn) Move(ctx context.Context, folder string, uids []mailbox.UID, destination string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.record(Call{Op: "move", Folder: folder, UIDs: slices.Clone(uids), Target: destination})
	if err := c.s.FailMove[destination]; err != nil {
		return err
	}
	for _, st := range c.take(folder, uids) {
		c.s.folders[destination] = append(c.s.folders[destination], st)
	}
	return nil
}

func (c *conn) Copy(ctx context.Context, folder string, uids []mailbox.UID, destination string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.record(Call{Op: "copy", Folder: folder, UIDs: slices.Clone(uids), Target: destination})
	for _, u := range uids {
		if err := c.s.FailCopy[u]; err != nil {
			return err
		}
	}
	for _, st := range c.s.folders[folder] {
		if slices.Contains(uids, st.msg.UID) {
			dup := &stored{msg: st.msg, flags: map[string]bool{}, raw: st.raw}
			c.s.folders[destination] = append(c.s.folders[destination], dup)
		}
	}
	return nil
}

func (c *conn) Flag(ctx context.Context, folder string, uids []mailbox.UID, flags []string, value bool) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.record(Call{Op: "flag", Folder: folder, UIDs: slices.Clone(uids)})
	for _, u := range uids {
		if err := c.s.FailFlag[u]; err != nil {
			return err
		}
	}
	for _, st := range c.s.folders[folder] {
		if slices.Contains(uids, st.msg.UID) {
			for _, f := range flags {
				st.flags[f] = value
			}
		}
	}
	return nil
}

func (c *conn) Expunge(ctx context.Context, folder string, uids []mailbox.UID) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.record(Call{Op: "expunge", Folder: folder, UIDs: slices.Clone(uids)})
	if c.s.FailExpunge != nil {
		return c.s.FailExpunge
	}
	var kept []*stored
	for _, st := range c.s.folders[folder] {
		if st.flags[mailbox.FlagDeleted] && slices.Contains(uids, st.msg.UID) {
			continue
		}
		kept = append(kept, st)
	}
	c.s.folders[folder] = kept
	return nil
}

func (c *conn) Count(ctx context.Context, folder string) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.record(Call{Op: "count", Folder: folder})
	if c.s.FailCount != nil {
		return 0, &mailbox.ConnectionError{Op: "status", Err: c.s.FailCount}
	}
	return len(c.s.folders[folder]), nil
}

func (c *conn) Raw(ctx context.Context, folder string, uid mailbox.UID) ([]byte, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.record(Call{Op: "raw", Folder: folder, UIDs: []mailbox.UID{uid}})
	if c.s.FailRaw != nil {
		return nil, c.s.FailRaw
	}
	for _, st := range c.s.folders[folder] {
		if st.msg.UID == uid {
			return slices.Clone(st.raw), nil
		}
	}
	return nil, fmt.Errorf("uid %d not in %s", uid, folder)
}

func (c *conn) Logout() error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.s.Logouts++
	return nil
}
