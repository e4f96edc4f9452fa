package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UID identifies a message within a folder for the duration of a session.
type UID uint32

// Message is a read-only snapshot of a fetched email.
type Message struct {
	UID     UID       `json:"uid"`
	From    string    `json:"from"`    // raw sender, "Name <addr>" or a bare address
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Content string    `json:"content,omitempty"` // body text, only when requested
}

// Criteria narrows a fetch. The zero value selects every message.
type Criteria struct {
	Before      time.Time // messages dated strictly before this instant
	WithContent bool // also download and decode the body text
}

// ErrNoUIDExpunge is returned by Expunge when the server cannot expunge
// individual UIDs.
var ErrNoUIDExpunge = errors.New("server does not support UID EXPUNGE")

// Well-known flag names.
const (
	FlagSeen    = `\Seen`
	FlagDeleted = `\Deleted`
)

// Dialer opens authenticated connections to one account's mailbox.
type Dialer interface {
	Login(ctx context.Context) (Conn, error)
}

// Conn is a logged-in mailbox session. Calls on one Conn must not overlap.
type Conn interface {
	// Fetch returns up to limit messages from folder matching criteria,
	// oldest first. A limit <= 0 means no limit.
	Fetch(ctx context.Context, folder string, criteria Criteria, limit int) ([]Message, error)

	// Move relocates uids from folder to destination.
	Move(ctx context.Context, folder string, uids []UID, destination string) error

	// Copy duplicates uids from folder into destination.
	Copy(ctx context.Context, folder string, uids []UID, destination string) error

	// Flag sets (value=true) or clears flags on uids in folder.
	Flag(ctx context.Context, folder string, uids []UID, flags []string, value bool) error

	// Expunge permanently removes uids in folder that carry \Deleted.
	Expunge(ctx context.Context, folder string, uids []UID) error

	// Count returns the number of messages in folder.
	Count(ctx context.Context, folder string) (int, error)

	// Raw returns the full RFC 5322 bytes of one message.
	Raw(ctx context.Context, folder string, uid UID) ([]byte, error)

	Logout() error
}

// Account pairs an address with the means to reach its mailbox.
type Account struct {
	Email  string
	Dialer Dialer
}

// ConnectionError reports a login, select or fetch failure. These abort a run.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UIDs returns the identifiers of msgs in order.
func UIDs(msgs []Message) []UID {
	out := make([]UID, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.UID)
	}
	return out
}
