package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/logging"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

// Role is the author of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one turn of a draft conversation.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Record is the history of one thread.
type Record struct {
	ThreadID     string
	Entries      []Entry
	CurrentDraft string
	UpdatedAt    time.Time
}

// Empty reports whether the record holds nothing.
func (r Record) Empty() bool {
	return len(r.Entries) == 0 && r.CurrentDraft == ""
}

const documentVersion = 1

// document is the persisted form of a Record.
type document struct {
	Version      int       `json:"version"`
	ThreadID     string    `json:"thread_id"`
	Entries      []Entry   `json:"entries"`
	CurrentDraft string    `json:"current_draft"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const documentSchema = `{
  "type": "object",
  "required": ["version", "thread_id", "entries", "current_draft", "updated_at"],
  "properties": {
    "version": {"const": 1},
    "thread_id": {"type": "string", "minLength": 1},
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["user", "assistant"]},
          "content": {"type": "string"}
        }
      }
    },
    "current_draft": {"type": "string"},
    "updated_at": {"type": "string"}
  }
}`

var documentValidator = mustCompileSchema("history.json", documentSchema)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		panic(fmt.Sprintf("parse %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add %s: %v", name, err))
	}
	return c.MustCompile(name)
}

// Warning is a non-fatal storage problem. The in-memory copy stays
// authoritative for the rest of the session, so nothing the user sees is
// lost; it just may not survive a restart.
type Warning struct {
	Op       string
	ThreadID string
	Err      error
}

func (w *Warning) Error() string {
	return fmt.Sprintf("history %s for thread %s kept in memory only: %v", w.Op, w.ThreadID, w.Err)
}

func (w *Warning) Unwrap() error { return w.Err }

// Defaults for Options.
const (
	DefaultMaxAge     = 30 * 24 * time.Hour
	DefaultMaxThreads = 200
)

// Options configures a Store.
type Options struct {
	// MaxAge is the age past which a thread's history is pruned.
	MaxAge time.Duration

	// MaxThreads caps how many threads keep history.
	MaxThreads int

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

// Store is the conversation history store. Reads never fail: missing,
// corrupt or mismatched data reads as empty. Writes that the backend
// rejects are kept in memory and reported as a Warning.
type Store struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	mu sync.Mutex
	// overlay holds records whose last write did not reach the backend.
	overlay map[string]document
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts Options) *Store {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = DefaultMaxThreads
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logging.WithComponent(logging.OrDefault(opts.Logger), "history"),
		overlay: map[string]document{},
	}
}

// Read returns the history of threadID.
func (s *Store) Read(ctx context.Context, threadID string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, threadID).record()
}

// Append adds an entry and returns the resulting entries.
func (s *Store) Append(ctx context.Context, threadID string, role Role, content string) ([]Entry, *Warning) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load(ctx, threadID)
	doc.Entries = append(doc.Entries, Entry{Role: role, Content: content})
	w := s.save(ctx, "append", doc)
	return append([]Entry(nil), doc.Entries...), w
}

// UpdateDraft replaces the current draft text.
func (s *Store) UpdateDraft(ctx context.Context, threadID, text string) *Warning {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load(ctx, threadID)
	doc.CurrentDraft = text
	return s.save(ctx, "update_draft", doc)
}

// Commit records one drafting turn with a single write: entries are
// appended, to an empty history when reset is set, and draft becomes the
// current draft.
func (s *Store) Commit(ctx context.Context, threadID string, reset bool, draft string, entries ...Entry) *Warning {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{Version: documentVersion, ThreadID: threadID}
	if !reset {
		doc = s.load(ctx, threadID)
	}
	doc.Entries = append(doc.Entries, entries...)
	doc.CurrentDraft = draft
	return s.save(ctx, "commit", doc)
}

// Clear drops the history of threadID.
func (s *Store) Clear(ctx context.Context, threadID string) *Warning {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.overlay, threadID)
	if err := s.backend.Delete(ctx, threadID); err != nil {
		// Shadow the stale backend copy until a later write succeeds.
		s.overlay[threadID] = document{Version: documentVersion, ThreadID: threadID, UpdatedAt: s.opts.Now()}
		return s.warn(ctx, "clear", threadID, err)
	}
	return nil
}

// Prune applies the retention policy and returns the number of threads
// removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	n, err := s.backend.Prune(ctx, s.opts.Now().Add(-s.opts.MaxAge), s.opts.MaxThreads)
	if err != nil {
		return n, &triageerr.StorageError{Op: "prune", Err: err}
	}
	return n, nil
}

// load returns the current document for threadID, or an empty one.
func (s *Store) load(ctx context.Context, threadID string) document {
	if doc, ok := s.overlay[threadID]; ok {
		return doc.clone()
	}

	empty := document{Version: documentVersion, ThreadID: threadID}

	data, err := s.backend.Load(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		return empty
	}
	if err != nil {
		s.logger.Warn("history unreadable, treating as empty", logging.Thread(threadID), logging.Err(err))
		return empty
	}

	doc, err := decode(data, threadID)
	if err != nil {
		s.logger.Warn("discarding invalid history", logging.Thread(threadID), logging.Err(err), logging.Payload(data))
		return empty
	}
	return doc
}

// save writes doc, pruning and retrying once when the backend is full.
func (s *Store) save(ctx context.Context, op string, doc document) *Warning {
	doc.UpdatedAt = s.opts.Now()
	data, err := json.Marshal(doc)
	if err != nil {
		s.overlay[doc.ThreadID] = doc
		return s.warn(ctx, op, doc.ThreadID, err)
	}

	err = s.backend.Save(ctx, doc.ThreadID, data, doc.UpdatedAt)
	if errors.Is(err, ErrCapacity) {
		removed, perr := s.backend.Prune(ctx, doc.UpdatedAt.Add(-s.opts.MaxAge), s.opts.MaxThreads)
		s.logger.Info("history full, pruned old threads",
			logging.Thread(doc.ThreadID), slog.Int("removed", removed), logging.Err(perr))
		err = s.backend.Save(ctx, doc.ThreadID, data, doc.UpdatedAt)
	}
	if err != nil {
		s.overlay[doc.ThreadID] = doc
		return s.warn(ctx, op, doc.ThreadID, err)
	}

	delete(s.overlay, doc.ThreadID)
	return nil
}

func (s *Store) warn(ctx context.Context, op, threadID string, err error) *Warning {
	s.logger.Warn("history write failed, keeping in memory",
		logging.Operation(op), logging.Thread(threadID), logging.Err(err))
	s.opts.Metrics.RecordHistoryWarning(ctx, op)
	return &Warning{Op: op, ThreadID: threadID, Err: &triageerr.StorageError{Op: op, Err: err}}
}

// decode parses and validates a persisted document.
func decode(data []byte, threadID string) (document, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return document{}, fmt.Errorf("not json: %w", err)
	}
	if err := documentValidator.Validate(inst); err != nil {
		return document{}, fmt.Errorf("shape mismatch: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}
	if doc.ThreadID != threadID {
		return document{}, fmt.Errorf("record belongs to thread %q", doc.ThreadID)
	}
	return doc, nil
}

func (d document) clone() document {
	d.Entries = append([]Entry(nil), d.Entries...)
	return d
}

func (d document) record() Record {
	return Record{
		ThreadID:     d.ThreadID,
		Entries:      append([]Entry(nil), d.Entries...),
		CurrentDraft: d.CurrentDraft,
		UpdatedAt:    d.UpdatedAt,
	}
}
