package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxtriage/internal/instrumentation"
)

const noSubject = "(no subject)"

// LoadContext renders the whole thread as model context.
func (c *Client) LoadContext(ctx context.Context, threadID string) (string, error) {
	return c.ThreadContext(ctx, threadID, 0)
}

// ThreadContext renders the newest window messages of a thread, oldest
// first. A window <= 0 renders every message.
func (c *Client) ThreadContext(ctx context.Context, threadID string, window int) (string, error) {
	t, err := c.fullThread(ctx, threadID)
	if err != nil {
		return "", err
	}

	msgs := append([]*gmail.Message(nil), t.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].InternalDate < msgs[j].InternalDate
	})
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	return c.formatThread(msgs), nil
}

func (c *Client) fullThread(ctx context.Context, threadID string) (*gmail.Thread, error) {
	var t *gmail.Thread
	err := c.do(ctx, "threads.get", instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		t, err = c.svc.Threads.Get(me, threadID).Format("full").Context(ctx).Do()
		return err
	})
	return t, err
}

// formatThread expects msgs sorted oldest first. The thread subject is
// taken from the first message.
func (c *Client) formatThread(msgs []*gmail.Message) string {
	subject := noSubject
	if len(msgs) > 0 {
		if s := HeaderValue(msgs[0], "Subject"); s != "" {
			subject = s
		}
	}

	parts := []string{fmt.Sprintf("=== Email Thread: %s ===\n", subject)}
	for i, m := range msgs {
		parts = append(parts,
			fmt.Sprintf("--- Message %d of %d ---", i+1, len(msgs)),
			c.formatMessage(m),
			"")
	}
	return strings.Join(parts, "\n")
}

func (c *Client) formatMessage(m *gmail.Message) string {
	date := "Unknown"
	if m.InternalDate > 0 {
		date = internalDate(m).In(c.location).Format("2006-01-02 15:04")
	}
	subject := HeaderValue(m, "Subject")
	if subject == "" {
		subject = noSubject
	}

	lines := []string{
		"From: " + HeaderValue(m, "From"),
		"To: " + HeaderValue(m, "To"),
	}
	if cc := HeaderValue(m, "Cc"); cc != "" {
		lines = append(lines, "Cc: "+cc)
	}
	lines = append(lines,
		"Date: "+date,
		"Subject: "+subject,
		"",
		messageBody(m))
	return strings.Join(lines, "\n")
}

// HeaderValue extracts a header value from a Gmail message. Header names
// are matched case-insensitively.
func HeaderValue(m *gmail.Message, header string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, header) {
			return h.Value
		}
	}
	return ""
}

// messageBody returns the plain text body, the HTML body converted to
// text, or the snippet, in that order of preference.
func messageBody(m *gmail.Message) string {
	if text := findPart(m.Payload, "text/plain"); text != "" {
		return strings.TrimSpace(text)
	}
	if h := findPart(m.Payload, "text/html"); h != "" {
		if text := htmlToText(h); text != "" {
			return text
		}
	}
	return m.Snippet
}

// findPart returns the decoded data of the first part with mimeType.
func findPart(payload *gmail.MessagePart, mimeType string) string {
	var data string
	walkParts(payload, func(part *gmail.MessagePart) {
		if data == "" && part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
			data = part.Body.Data
		}
	})
	if data == "" {
		return ""
	}
	return decodeBody(data)
}

// decodeBody decodes base64url body data. Gmail omits padding on some
// parts, so both forms are accepted.
func decodeBody(data string) string {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if decoded, err := enc.DecodeString(data); err == nil {
			return string(decoded)
		}
	}
	return ""
}

// walkParts visits part and all of its descendants depth first.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, sub := range part.Parts {
		walkParts(sub, fn)
	}
}
