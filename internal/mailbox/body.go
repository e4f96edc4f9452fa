package mailbox

import (
	"bytes"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
)

// BodyText decodes the readable text of a raw message. The first text/plain
// part wins; an HTML-only message is converted to plain text. Undecodable
// input yields an empty string.
func BodyText(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	defer mr.Close()

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct == "" {
			ct = "text/plain"
		}
		if ct != "text/plain" && ct != "text/html" {
			continue
		}
		b, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		if ct == "text/plain" && plain == "" {
			plain = string(b)
		} else if ct == "text/html" && html == "" {
			html = string(b)
		}
	}

	switch {
	case plain != "":
		return strings.TrimSpace(plain)
	case html != "":
		return strings.TrimSpace(html2text.HTML2Text(html))
	}
	return ""
}
