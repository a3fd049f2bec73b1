package labels

import (
	"context"
	"sort"
	"time"
)

// Provider is the part of the mail provider the label engine needs.
// Errors should be *triageerr.ProviderError so the retry policy can tell
// transient from permanent failures.
type Provider interface {
	ListFolders(ctx context.Context) ([]Folder, error)
	GetMessageLabels(ctx context.Context, messageID string) ([]string, error)
	SetMessageLabels(ctx context.Context, messageID string, labelIDs []string) error
	GetThread(ctx context.Context, threadID string) (Thread, error)
}

// MessageRef identifies one message of a thread.
type MessageRef struct {
	ID        string
	Timestamp time.Time
	LabelIDs  []string
}

// Thread is a provider thread. Message order as returned by the provider
// is not trusted; use Sorted or Tail.
type Thread struct {
	ID       string
	Messages []MessageRef
}

// Sorted returns the messages ordered by timestamp, oldest first.
func (t Thread) Sorted() []MessageRef {
	msgs := append([]MessageRef(nil), t.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs
}

// Tail returns the newest n messages, oldest first. n <= 0 returns all.
func (t Thread) Tail(n int) []MessageRef {
	msgs := t.Sorted()
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

// MessageIDs returns the ids of msgs in order.
func MessageIDs(msgs []MessageRef) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
