// Package sender relays raw messages over SMTP for the forward rule action.
package sender

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Sender forwards raw email messages over SMTP.
type Sender struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a new SMTP sender.
func New(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *Sender {
	return &Sender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		now:      time.Now,
		logger:   logger,
	}
}

// Forward sends raw email content to the target address. The envelope
// sender is the original From address, or the login name when it cannot
// be parsed.
func (s *Sender) Forward(rawEmail []byte, to string, originalID string) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	from := envelopeFrom(rawEmail, s.username)

	forwardHeaders := fmt.Sprintf(
		"X-Forwarded-By: mailrulez\r\nX-Original-Message-ID: %s\r\nX-Forwarded-Time: %s\r\n",
		originalID,
		s.now().UTC().Format(time.RFC3339),
	)
	message := append([]byte(forwardHeaders), rawEmail...)

	client, err := s.dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.username != "" && s.password != "" {
		auth := sasl.NewPlainClient("", s.username, s.password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to, nil); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp QUIT failed", "error", err)
	}
	s.logger.Info("forwarded", "to", to, "msg_id", originalID)
	return nil
}

func (s *Sender) dial(addr string) (*smtp.Client, error) {
	tlsConfig := &tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}

	if s.useTLS {
		client, err := smtp.DialTLS(addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("smtp tls dial %s: %w", addr, err)
		}
		return client, nil
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			s.logger.Warn("STARTTLS failed, continuing without TLS", "error", err)
		}
	}
	return client, nil
}

func envelopeFrom(rawEmail []byte, fallback string) string {
	reader, err := mail.CreateReader(bytes.NewReader(rawEmail))
	if err != nil {
		return fallback
	}
	defer reader.Close()
	if addrs, err := reader.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return fallback
}
