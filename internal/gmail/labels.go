package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/labels"
	"github.com/teemow/inboxtriage/internal/logging"
)

// System labels Gmail refuses to add or remove through Modify.
var unsettable = map[string]bool{
	"DRAFT": true,
	"SENT":  true,
	"TRASH": true,
	"SPAM":  true,
	"CHAT":  true,
}

// ListFolders returns every label of the account, system and user.
func (c *Client) ListFolders(ctx context.Context) ([]labels.Folder, error) {
	var resp *gmail.ListLabelsResponse
	err := c.do(ctx, "labels.list", instrumentation.OperationList, func(ctx context.Context) error {
		var err error
		resp, err = c.svc.Labels.List(me).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	folders := make([]labels.Folder, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		folders = append(folders, labels.Folder{ID: l.Id, Name: l.Name})
	}
	return folders, nil
}

// GetMessageLabels returns the label ids currently on a message.
func (c *Client) GetMessageLabels(ctx context.Context, messageID string) ([]string, error) {
	msg, err := c.minimalMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return msg.LabelIds, nil
}

// SetMessageLabels makes the message carry exactly labelIDs, apart from
// system labels that cannot be set. The current set is re-read so only
// the difference is sent; nothing is written when there is none.
func (c *Client) SetMessageLabels(ctx context.Context, messageID string, labelIDs []string) error {
	msg, err := c.minimalMessage(ctx, messageID)
	if err != nil {
		return err
	}

	add, remove := labelDiff(msg.LabelIds, labelIDs)
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	c.logger.Debug("modifying message labels",
		logging.Message(messageID),
		slog.Any("add", add),
		slog.Any("remove", remove))

	return c.do(ctx, "messages.modify", instrumentation.OperationModify, func(ctx context.Context) error {
		_, err := c.svc.Messages.Modify(me, messageID, &gmail.ModifyMessageRequest{
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
		return err
	})
}

// GetThread returns the messages of a thread with their label ids and
// internal timestamps.
func (c *Client) GetThread(ctx context.Context, threadID string) (labels.Thread, error) {
	var t *gmail.Thread
	err := c.do(ctx, "threads.get", instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		t, err = c.svc.Threads.Get(me, threadID).Format("minimal").Context(ctx).Do()
		return err
	})
	if err != nil {
		return labels.Thread{}, err
	}

	thread := labels.Thread{ID: t.Id, Messages: make([]labels.MessageRef, 0, len(t.Messages))}
	for _, m := range t.Messages {
		thread.Messages = append(thread.Messages, labels.MessageRef{
			ID:        m.Id,
			Timestamp: internalDate(m),
			LabelIDs:  m.LabelIds,
		})
	}
	return thread, nil
}

// EnsureLabels creates the named user labels that do not exist yet and
// returns the folders for all of them.
func (c *Client) EnsureLabels(ctx context.Context, names []string) ([]labels.Folder, error) {
	existing, err := c.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]labels.Folder, len(existing))
	for _, f := range existing {
		byName[f.Name] = f
	}

	out := make([]labels.Folder, 0, len(names))
	for _, name := range names {
		if f, ok := byName[name]; ok {
			out = append(out, f)
			continue
		}

		var created *gmail.Label
		err := c.do(ctx, "labels.create", instrumentation.OperationCreate, func(ctx context.Context) error {
			var err error
			created, err = c.svc.Labels.Create(me, &gmail.Label{
				Name:                  name,
				LabelListVisibility:   "labelShow",
				MessageListVisibility: "show",
			}).Context(ctx).Do()
			return err
		})
		if err != nil {
			return out, fmt.Errorf("failed to create label %s: %w", name, err)
		}
		c.logger.Info("created label", slog.String("name", name), slog.String("label_id", created.Id))
		f := labels.Folder{ID: created.Id, Name: created.Name}
		byName[name] = f
		out = append(out, f)
	}
	return out, nil
}

func (c *Client) minimalMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := c.do(ctx, "messages.get", instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		msg, err = c.svc.Messages.Get(me, messageID).Format("minimal").Context(ctx).Do()
		return err
	})
	return msg, err
}

// labelDiff returns the ids to add and remove to turn current into
// desired, leaving unsettable system labels alone.
func labelDiff(current, desired []string) (add, remove []string) {
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	want := make(map[string]bool, len(desired))
	for _, id := range desired {
		if want[id] {
			continue
		}
		want[id] = true
		if !have[id] && !unsettable[id] {
			add = append(add, id)
		}
	}
	for _, id := range current {
		if !want[id] && !unsettable[id] {
			remove = append(remove, id)
		}
	}
	return add, remove
}

func internalDate(m *gmail.Message) time.Time {
	return time.UnixMilli(m.InternalDate).UTC()
}
