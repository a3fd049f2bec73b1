package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"sort"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/logging"
)

// SaveDraft stores body as a reply draft on the thread and returns the
// draft id.
func (c *Client) SaveDraft(ctx context.Context, threadID, body string) (string, error) {
	return c.CreateReplyDraft(ctx, threadID, body)
}

// CreateReplyDraft creates a draft replying to the newest message of the
// thread that was not sent by the account itself, falling back to the
// newest message.
func (c *Client) CreateReplyDraft(ctx context.Context, threadID, body string) (string, error) {
	if threadID == "" {
		return "", errors.New("threadID is required")
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("body is required")
	}

	t, err := c.metadataThread(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("failed to get thread: %w", err)
	}
	original := replyTarget(t.Messages)
	if original == nil {
		return "", fmt.Errorf("thread %s has no messages", threadID)
	}

	raw, err := buildReply(original, body)
	if err != nil {
		return "", err
	}

	var draft *gmail.Draft
	err = c.do(ctx, "drafts.create", instrumentation.OperationCreate, func(ctx context.Context) error {
		var err error
		draft, err = c.svc.Drafts.Create(me, &gmail.Draft{
			Message: &gmail.Message{
				Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
				ThreadId: threadID,
			},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("draft created", logging.Thread(threadID), logging.Operation("drafts.create"))
	return draft.Id, nil
}

func (c *Client) metadataThread(ctx context.Context, threadID string) (*gmail.Thread, error) {
	var t *gmail.Thread
	err := c.do(ctx, "threads.get", instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		t, err = c.svc.Threads.Get(me, threadID).
			Format("metadata").
			MetadataHeaders("From", "To", "Cc", "Subject", "Message-ID", "References").
			Context(ctx).Do()
		return err
	})
	return t, err
}

func replyTarget(msgs []*gmail.Message) *gmail.Message {
	if len(msgs) == 0 {
		return nil
	}
	sorted := append([]*gmail.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InternalDate < sorted[j].InternalDate
	})
	for i := len(sorted) - 1; i >= 0; i-- {
		if !hasLabel(sorted[i], "SENT") {
			return sorted[i]
		}
	}
	return sorted[len(sorted)-1]
}

func hasLabel(m *gmail.Message, id string) bool {
	for _, l := range m.LabelIds {
		if l == id {
			return true
		}
	}
	return false
}

// buildReply renders an RFC 2822 reply to original.
func buildReply(original *gmail.Message, body string) (string, error) {
	from := HeaderValue(original, "From")
	if from == "" {
		return "", errors.New("original message has no From header")
	}
	messageID := HeaderValue(original, "Message-ID")

	subject := HeaderValue(original, "Subject")
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	references := strings.TrimSpace(HeaderValue(original, "References") + " " + messageID)

	var b strings.Builder
	b.WriteString("To: " + from + "\r\n")
	b.WriteString("Subject: " + encodeRFC2047(subject) + "\r\n")
	if messageID != "" {
		b.WriteString("In-Reply-To: " + messageID + "\r\n")
	}
	if references != "" {
		b.WriteString("References: " + references + "\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String(), nil
}

// encodeRFC2047 encodes a header value containing non-ASCII characters.
// ASCII input is returned unchanged.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
