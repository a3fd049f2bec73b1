package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

// ClassifyPrompt is the default system prompt of the classifier.
const ClassifyPrompt = `You classify email threads for an inbox triage tool.

Read the thread below and choose the labels that describe it. Every label
must start with "ai_" and use only lowercase letters, digits and
underscores. Return an empty list when nothing applies.

Respond with a single JSON object and nothing else:
{"labels": ["ai_example"]}`

// Classifier asks a Provider for AI labels.
type Classifier struct {
	provider Provider
	prompt   string
	metrics  *instrumentation.Metrics
}

// NewClassifier returns a classifier. When known is non-empty the model is
// told to prefer those labels.
func NewClassifier(p Provider, m *instrumentation.Metrics, known []string) *Classifier {
	prompt := ClassifyPrompt
	if len(known) > 0 {
		prompt += "\n\nPrefer these existing labels: " + strings.Join(known, ", ")
	}
	return &Classifier{provider: p, prompt: prompt, metrics: m}
}

// Classify returns the model's JSON answer for threadContext. The output is
// not validated here.
func (c *Classifier) Classify(ctx context.Context, threadContext string) (json.RawMessage, error) {
	out, err := complete(ctx, c.provider, c.metrics, "classify", Request{
		System:    c.prompt,
		Messages:  []Message{{Role: "user", Content: threadContext}},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, err
	}
	raw, err := firstJSON(out)
	if err != nil {
		return nil, &triageerr.ValidationError{Source: "classifier", Reason: err.Error(), Raw: []byte(out)}
	}
	return raw, nil
}

// firstJSON extracts the first JSON object or array from s. Models tend to
// wrap answers in prose or code fences.
func firstJSON(s string) (json.RawMessage, error) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON value in response")
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed JSON in response: %w", err)
	}
	return bytes.TrimSpace(raw), nil
}
