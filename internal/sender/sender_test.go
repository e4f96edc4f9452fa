package sender

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	from string
	to   []string
	data []byte
	user string
}

type backend struct {
	mu       sync.Mutex
	messages []received
	password string
}

func (b *backend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &session{b: b}, nil
}

type session struct {
	b   *backend
	cur received
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if password != s.b.password {
			return errors.New("invalid credentials")
		}
		s.cur.user = username
		return nil
	}), nil
}

func (s *session) AuthPlain(username, password string) error {
	if password != s.b.password {
		return errors.New("invalid credentials")
	}
	s.cur.user = username
	return nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.cur.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = data
	s.b.mu.Lock()
	s.b.messages = append(s.b.messages, s.cur)
	s.b.mu.Unlock()
	return nil
}

func (s *session) Reset() {
	s.cur = received{user: s.cur.user}
}

func (s *session) Logout() error { return nil }

func startServer(t *testing.T, be *backend) (string, int) {
	t.Helper()
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const rawMessage = "From: Alice <alice@example.com>\r\nTo: me@example.com\r\nSubject: hello\r\n\r\nbody text\r\n"

func TestForward(t *testing.T) {
	be := &backend{password: "secret"}
	host, port := startServer(t, be)

	s := New(host, port, "relay@example.com", "secret", false, testLogger())
	s.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

	require.NoError(t, s.Forward([]byte(rawMessage), "archive@example.com", "INBOX/7"))

	be.mu.Lock()
	defer be.mu.Unlock()
	require.Len(t, be.messages, 1)
	msg := be.messages[0]
	assert.Equal(t, "alice@example.com", msg.from)
	assert.Equal(t, []string{"archive@example.com"}, msg.to)
	assert.Equal(t, "relay@example.com", msg.user)
	assert.Contains(t, string(msg.data), "X-Forwarded-By: mailrulez\r\n")
	assert.Contains(t, string(msg.data), "X-Original-Message-ID: INBOX/7\r\n")
	assert.Contains(t, string(msg.data), "X-Forwarded-Time: 2026-02-03T04:05:06Z\r\n")
	assert.Contains(t, string(msg.data), "Subject: hello")
}

func TestForward_BadCredentials(t *testing.T) {
	be := &backend{password: "secret"}
	host, port := startServer(t, be)

	s := New(host, port, "relay@example.com", "wrong", false, testLogger())
	err := s.Forward([]byte(rawMessage), "archive@example.com", "INBOX/7")
	assert.ErrorContains(t, err, "smtp auth")
	assert.Empty(t, be.messages)
}

func TestForward_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := New("127.0.0.1", port, "", "", false, testLogger())
	assert.ErrorContains(t, s.Forward([]byte(rawMessage), "x@example.com", "id"), "smtp dial")
}

func TestEnvelopeFrom(t *testing.T) {
	assert.Equal(t, "alice@example.com", envelopeFrom([]byte(rawMessage), "fallback@example.com"))
	assert.Equal(t, "fallback@example.com", envelopeFrom([]byte("Subject: none\r\n\r\n"), "fallback@example.com"))
}
