package gmail

import (
	"context"
	"strconv"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxtriage/internal/instrumentation"
)

// Inbound is a message that arrived in the mailbox.
type Inbound struct {
	ThreadID  string
	MessageID string
	LabelIDs  []string
}

// CurrentHistoryID returns the mailbox's latest history id, the starting
// point for InboundSince.
func (c *Client) CurrentHistoryID(ctx context.Context) (uint64, error) {
	var p *gmail.Profile
	err := c.do(ctx, "users.getProfile", instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		p, err = c.svc.GetProfile(me).Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, err
	}
	return p.HistoryId, nil
}

// InboundSince lists messages added after historyID, in history order,
// and returns the history id to resume from. Gmail expires history after
// about a week; a 404 surfaces as ErrHistoryExpired and the caller
// should restart from CurrentHistoryID.
func (c *Client) InboundSince(ctx context.Context, historyID uint64) ([]Inbound, uint64, error) {
	var (
		out       []Inbound
		seen      = make(map[string]bool)
		pageToken string
		latest    = historyID
	)
	for {
		var resp *gmail.ListHistoryResponse
		err := c.do(ctx, "history.list", instrumentation.OperationWatch, func(ctx context.Context) error {
			call := c.svc.History.List(me).
				StartHistoryId(historyID).
				HistoryTypes("messageAdded").
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			if isNotFound(err) {
				return nil, historyID, ErrHistoryExpired
			}
			return nil, historyID, err
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				m := added.Message
				if m == nil || seen[m.Id] {
					continue
				}
				seen[m.Id] = true
				out = append(out, Inbound{ThreadID: m.ThreadId, MessageID: m.Id, LabelIDs: m.LabelIds})
			}
		}
		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			return out, latest, nil
		}
		pageToken = resp.NextPageToken
	}
}

// ParseHistoryID parses a history id stored as text.
func ParseHistoryID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
