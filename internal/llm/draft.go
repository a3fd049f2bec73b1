package llm

import (
	"context"
	"strings"

	"github.com/teemow/inboxtriage/internal/history"
	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/session"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

// DraftPrompt is the default system prompt of the draft generator.
const DraftPrompt = `You are an email assistant helping to draft a response to an email thread.

Review the email thread below and draft a professional, helpful response to the most recent message.

Guidelines:
- Match the tone and formality of the conversation
- Be concise but complete
- Address all questions or requests in the most recent message
- If more information is needed to respond properly, note what's missing
- Do not include a subject line (it will be auto-generated as Re: ...)
- Start directly with the greeting or response content

Return ONLY the draft email body, nothing else.`

const regeneratePrompt = "Write the draft again."

// DraftGenerator produces reply drafts with a Provider.
type DraftGenerator struct {
	provider Provider
	prompt   string
	metrics  *instrumentation.Metrics
}

// NewDraftGenerator returns a generator using DraftPrompt.
func NewDraftGenerator(p Provider, m *instrumentation.Metrics) *DraftGenerator {
	return &DraftGenerator{provider: p, prompt: DraftPrompt, metrics: m}
}

// WithPrompt replaces the system prompt.
func (g *DraftGenerator) WithPrompt(prompt string) *DraftGenerator {
	if strings.TrimSpace(prompt) != "" {
		g.prompt = prompt
	}
	return g
}

// Generate returns a draft body for req.
func (g *DraftGenerator) Generate(ctx context.Context, req session.GenerateRequest) (string, error) {
	out, err := complete(ctx, g.provider, g.metrics, "draft", Request{
		System:   g.prompt,
		Messages: draftMessages(req),
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &triageerr.ValidationError{Source: "draft generator", Reason: "empty draft"}
	}
	return out, nil
}

// draftMessages lays out the conversation: the thread first, then the
// earlier drafts and instructions, ending with a user turn.
func draftMessages(req session.GenerateRequest) []Message {
	msgs := []Message{{Role: string(history.RoleUser), Content: req.ThreadContext}}
	for _, e := range req.History {
		msgs = appendTurn(msgs, string(e.Role), e.Content)
	}
	if instr := strings.TrimSpace(req.Instructions); instr != "" {
		msgs = appendTurn(msgs, string(history.RoleUser), "Revise the draft with these instructions:\n"+instr)
	} else if msgs[len(msgs)-1].Role != string(history.RoleUser) {
		msgs = appendTurn(msgs, string(history.RoleUser), regeneratePrompt)
	}
	return msgs
}

// appendTurn merges consecutive turns of the same role, which the
// Messages API rejects.
func appendTurn(msgs []Message, role, content string) []Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content += "\n\n" + content
		return msgs
	}
	return append(msgs, Message{Role: role, Content: content})
}
