package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/inboxtriage/internal/history"
	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/labels"
	"github.com/teemow/inboxtriage/internal/logging"
	"github.com/teemow/inboxtriage/internal/retry"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

// GenerateRequest is the input of a draft generation.
type GenerateRequest struct {
	ThreadID      string
	ThreadContext string

	// History holds the earlier drafts and instructions, oldest first.
	History []history.Entry

	// Instructions is the user's revision request, empty for a first draft.
	Instructions string
}

// DraftGenerator writes reply drafts.
type DraftGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ThreadLoader renders a thread as generator context.
type ThreadLoader interface {
	LoadContext(ctx context.Context, threadID string) (string, error)
}

// DraftSaver stores a draft reply with the mail provider and returns its id.
type DraftSaver interface {
	SaveDraft(ctx context.Context, threadID, body string) (string, error)
}

// LabelApplier moves a thread to a workflow state.
type LabelApplier interface {
	ApplyWorkflow(ctx context.Context, threadID string, target labels.WorkflowLabel) (*labels.Result, error)
}

// Defaults for Config.
const (
	DefaultGenerateTimeout = 30 * time.Second
	DefaultSaveTimeout     = 10 * time.Second
)

// Config tunes session operations.
type Config struct {
	// GenerateTimeout bounds a whole generate or regenerate, retries included.
	GenerateTimeout time.Duration `yaml:"generate_timeout"`

	// SaveTimeout bounds the draft save and, separately, the label update.
	SaveTimeout time.Duration `yaml:"save_timeout"`
}

// Deps are the collaborators shared by all sessions of a Manager.
type Deps struct {
	Generator DraftGenerator
	Loader    ThreadLoader
	Saver     DraftSaver
	Labels    LabelApplier
	History   *history.Store

	// Policy is the retry policy for generator and loader calls.
	// Defaults to retry.Default. Unless the policy says otherwise only
	// failures with a retryable status code are retried.
	Policy *retry.Policy

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Manager creates sessions.
type Manager struct {
	deps   Deps
	cfg    Config
	policy retry.Policy
	logger *slog.Logger
}

// NewManager returns a Manager. Generator, Loader, Saver, Labels and
// History are required.
func NewManager(deps Deps, cfg Config) (*Manager, error) {
	switch {
	case deps.Generator == nil:
		return nil, errors.New("session: draft generator is required")
	case deps.Loader == nil:
		return nil, errors.New("session: thread loader is required")
	case deps.Saver == nil:
		return nil, errors.New("session: draft saver is required")
	case deps.Labels == nil:
		return nil, errors.New("session: label applier is required")
	case deps.History == nil:
		return nil, errors.New("session: history store is required")
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = DefaultSaveTimeout
	}

	policy := retry.Default()
	if deps.Policy != nil {
		policy = *deps.Policy
	}
	if policy.IsTransient == nil {
		policy.IsTransient = respondedTransient
	}

	return &Manager{
		deps:   deps,
		cfg:    cfg,
		policy: policy,
		logger: logging.WithComponent(logging.OrDefault(deps.Logger), "session"),
	}, nil
}

// respondedTransient retries only failures the provider answered with a
// retryable status. A timeout of the generator is the user's to retry.
func respondedTransient(err error) bool {
	var pe *triageerr.ProviderError
	return errors.As(err, &pe) && pe.Code != 0 && pe.Transient()
}

// Open starts a session on threadID, restoring a saved draft if there is one.
func (m *Manager) Open(ctx context.Context, threadID string) *Session {
	s := &Session{
		m:      m,
		id:     uuid.NewString(),
		thread: threadID,
	}
	s.logger = m.logger.With(slog.String("session", s.id))
	m.deps.Metrics.IncrementActiveSessions(ctx)
	s.restoreDraft(ctx, s.current())
	return s
}

// Session drives draft operations for the thread the user is looking at.
// Only one operation runs at a time; triggers while busy are rejected.
type Session struct {
	m      *Manager
	id     string
	logger *slog.Logger

	mu     sync.Mutex
	thread string
	gen    uint64
	state  State
	draft  string
	closed bool
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ThreadID returns the thread the session is bound to.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

// Draft returns the visible draft.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Navigate rebinds the session to threadID. Any operation still in flight
// for the previous thread is invalidated before Navigate returns.
func (s *Session) Navigate(ctx context.Context, threadID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.thread
	s.gen++
	s.thread = threadID
	s.state = Idle
	s.draft = ""
	tok := s.tokenLocked()
	s.mu.Unlock()

	s.logger.Debug("session navigated", slog.String("from", prev), logging.Thread(threadID))
	s.restoreDraft(ctx, tok)
}

// Close invalidates any operation in flight. The session cannot be used
// afterwards.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.state = Idle
	s.mu.Unlock()
	s.m.deps.Metrics.DecrementActiveSessions(ctx)
}

func (s *Session) tokenLocked() Token {
	return Token{session: s.id, thread: s.thread, gen: s.gen}
}

func (s *Session) current() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenLocked()
}

// valid reports whether tok is still the session's current token.
func (s *Session) valid(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && tok == s.tokenLocked()
}

// begin moves from Idle to next and returns the operation's token.
func (s *Session) begin(op string, next State) (Token, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Idle {
		return Token{}, "", false
	}
	s.state = next
	return s.tokenLocked(), s.draft, true
}

// finish returns to Idle unless the session has moved on.
func (s *Session) finish(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok == s.tokenLocked() {
		s.state = Idle
	}
}

// setDraft updates the visible draft if tok is still current.
func (s *Session) setDraft(tok Token, draft string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || tok != s.tokenLocked() {
		return false
	}
	s.draft = draft
	return true
}

func (s *Session) restoreDraft(ctx context.Context, tok Token) {
	rec := s.m.deps.History.Read(ctx, tok.thread)
	if rec.CurrentDraft != "" {
		s.setDraft(tok, rec.CurrentDraft)
	}
}

func (s *Session) reject(ctx context.Context, op string) Outcome {
	s.logger.Info("trigger ignored, operation in progress",
		logging.Operation(op), logging.State(s.State().String()))
	s.m.deps.Metrics.RecordRejectedTrigger(ctx, op)
	return Outcome{Status: StatusRejected, Err: triageerr.ErrBusy}
}

func (s *Session) discard(op string, tok Token) Outcome {
	s.logger.Debug("discarding stale result", logging.Operation(op), logging.Thread(tok.thread))
	return Outcome{Status: StatusDiscarded, Err: triageerr.ErrStaleToken}
}

// run wraps an operation with the state guard, a span and metrics.
func (s *Session) run(ctx context.Context, op string, next State, fn func(ctx context.Context, tok Token, draft string) Outcome) Outcome {
	tok, draft, ok := s.begin(op, next)
	if !ok {
		return s.reject(ctx, op)
	}
	defer s.finish(tok)

	attrs := instrumentation.NewSpanAttributeBuilder().WithThread(tok.thread).Build()
	ctx, span := instrumentation.StartSpan(ctx, "session."+op, attrs...)
	start := time.Now()

	out := fn(ctx, tok, draft)

	if out.Status == StatusFailed {
		instrumentation.EndSpan(span, out.Err)
	} else {
		instrumentation.EndSpan(span, nil)
	}
	s.m.deps.Metrics.RecordSessionOperation(ctx, op, string(out.Status), tok.thread, time.Since(start))

	level := slog.LevelInfo
	if out.Status == StatusFailed {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "session operation finished",
		logging.Operation(op), logging.Thread(tok.thread),
		logging.Status(string(out.Status)), slog.Duration("duration", time.Since(start)),
		logging.Err(out.Err))
	return out
}

// Generate writes a fresh draft for the thread, replacing any earlier
// conversation.
func (s *Session) Generate(ctx context.Context) Outcome {
	return s.run(ctx, "generate", Generating, func(ctx context.Context, tok Token, _ string) Outcome {
		return s.generate(ctx, tok, "generate", "")
	})
}

// Regenerate revises the draft following instructions.
func (s *Session) Regenerate(ctx context.Context, instructions string) Outcome {
	return s.run(ctx, "regenerate", Regenerating, func(ctx context.Context, tok Token, _ string) Outcome {
		return s.generate(ctx, tok, "regenerate", instructions)
	})
}

func (s *Session) generate(ctx context.Context, tok Token, op, instructions string) Outcome {
	deps := s.m.deps
	ctx, cancel := context.WithTimeout(ctx, s.m.cfg.GenerateTimeout)
	defer cancel()

	threadContext, err := retry.Value(ctx, s.m.policy, "thread.context", func(ctx context.Context) (string, error) {
		return deps.Loader.LoadContext(ctx, tok.thread)
	})
	if !s.valid(tok) {
		return s.discard(op, tok)
	}
	if err != nil {
		return generateFailed(err)
	}

	req := GenerateRequest{ThreadID: tok.thread, ThreadContext: threadContext, Instructions: instructions}
	if op == "regenerate" {
		req.History = deps.History.Read(ctx, tok.thread).Entries
	}

	draft, err := retry.Value(ctx, s.m.policy, "draft.generate", func(ctx context.Context) (string, error) {
		return deps.Generator.Generate(ctx, req)
	})
	if !s.valid(tok) {
		return s.discard(op, tok)
	}
	if err != nil {
		return generateFailed(err)
	}

	var turn []history.Entry
	if op == "regenerate" && instructions != "" {
		turn = append(turn, history.Entry{Role: history.RoleUser, Content: instructions})
	}
	turn = append(turn, history.Entry{Role: history.RoleAssistant, Content: draft})

	// The turn is written once, and only while the token is current.
	if !s.valid(tok) {
		return s.discard(op, tok)
	}
	w := deps.History.Commit(ctx, tok.thread, op == "generate", draft, turn...)

	if !s.setDraft(tok, draft) {
		return s.discard(op, tok)
	}
	return Outcome{
		Status:  StatusSucceeded,
		Draft:   draft,
		Message: MessageDraftReady,
		Warning: historyWarning(w),
	}
}

func generateFailed(err error) Outcome {
	msg := MessageGenerateFailed
	if errors.Is(err, context.DeadlineExceeded) {
		msg += ": timed out"
	}
	return Outcome{Status: StatusFailed, Message: msg, Err: err}
}

// Approve saves the visible draft with the mail provider, marks the
// thread as drafted and clears its conversation. A failed label update
// does not undo the saved draft.
func (s *Session) Approve(ctx context.Context) Outcome {
	return s.run(ctx, "approve", Saving, func(ctx context.Context, tok Token, draft string) Outcome {
		return s.approve(ctx, tok, draft)
	})
}

func (s *Session) approve(ctx context.Context, tok Token, draft string) Outcome {
	deps := s.m.deps
	if draft == "" {
		return Outcome{Status: StatusFailed, Message: MessageNothingToSave,
			Err: &triageerr.ValidationError{Source: "session", Reason: "no draft to save"}}
	}

	saveCtx, cancel := context.WithTimeout(ctx, s.m.cfg.SaveTimeout)
	draftID, err := deps.Saver.SaveDraft(saveCtx, tok.thread, draft)
	cancel()
	if !s.valid(tok) {
		if err == nil {
			s.logger.Info("draft saved after session moved on", logging.Thread(tok.thread), slog.String("draft_id", draftID))
		}
		return s.discard("approve", tok)
	}
	if err != nil {
		return Outcome{Status: StatusFailed, Draft: draft, Message: MessagePartialFailure, Err: err}
	}

	labelCtx, cancel := context.WithTimeout(ctx, s.m.cfg.SaveTimeout)
	res, err := deps.Labels.ApplyWorkflow(labelCtx, tok.thread, labels.WorkflowDrafted)
	cancel()
	if err == nil {
		err = res.Err()
	}
	if !s.valid(tok) {
		return s.discard("approve", tok)
	}

	w := deps.History.Clear(ctx, tok.thread)
	s.setDraft(tok, "")

	out := Outcome{
		Status:  StatusSucceeded,
		DraftID: draftID,
		Message: MessageSaved,
		Warning: historyWarning(w),
	}
	if err != nil {
		out.Status = StatusSavedWithWarning
		out.Message = MessageLabelsStale
		out.Err = &triageerr.PartialFailure{Primary: "draft save", Secondary: "workflow label update", Err: err}
	}
	return out
}

// Skip drops the draft and its conversation without touching the mailbox.
func (s *Session) Skip(ctx context.Context) Outcome {
	return s.run(ctx, "skip", Saving, func(ctx context.Context, tok Token, _ string) Outcome {
		w := s.m.deps.History.Clear(ctx, tok.thread)
		if !s.setDraft(tok, "") {
			return s.discard("skip", tok)
		}
		return Outcome{Status: StatusSucceeded, Message: MessageSkipped, Warning: historyWarning(w)}
	})
}

func historyWarning(ws ...*history.Warning) string {
	for _, w := range ws {
		if w != nil {
			return fmt.Sprintf("%s (%v)", MessageHistoryDegraded, w.Err)
		}
	}
	return ""
}
