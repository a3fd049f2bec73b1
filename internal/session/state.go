package session

import "fmt"

// State is the operation a session is currently running.
type State int

const (
	Idle State = iota
	Generating
	Regenerating
	Saving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Generating:
		return "generating"
	case Regenerating:
		return "regenerating"
	case Saving:
		return "saving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Token identifies one operation of one session on one thread. It is
// captured by value when an operation starts and compared against the
// session's current token whenever a network call returns.
type Token struct {
	session string
	thread  string
	gen     uint64
}

// Thread returns the thread the token was issued for.
func (t Token) Thread() string { return t.thread }

func (t Token) String() string {
	return fmt.Sprintf("%s/%s#%d", t.session, t.thread, t.gen)
}

// Status is the result category of a session operation.
type Status string

const (
	StatusSucceeded        Status = "succeeded"
	StatusSavedWithWarning Status = "saved_with_warning"
	StatusFailed           Status = "failed"
	StatusRejected         Status = "rejected"
	StatusDiscarded        Status = "discarded"
)

// User-visible messages.
const (
	MessageDraftReady      = "draft ready"
	MessageSaved           = "draft saved"
	MessageSkipped         = "draft discarded"
	MessageLabelsStale     = "saved, but labels may be stale"
	MessagePartialFailure  = "primary action may have partially failed"
	MessageGenerateFailed  = "could not generate a draft"
	MessageNothingToSave   = "nothing to save: generate a draft first"
	MessageHistoryDegraded = "history could not be saved and is kept for this session only"
)

// Outcome is what an operation reports back to the caller.
type Outcome struct {
	Status Status

	// Draft is the draft visible after the operation.
	Draft string

	// DraftID is the provider id of a saved draft.
	DraftID string

	// Message is the text to show the user. Empty for rejected and
	// discarded operations.
	Message string

	// Warning describes a non-fatal problem next to a success.
	Warning string

	Err error
}

// Visible reports whether the outcome should be surfaced to the user.
func (o Outcome) Visible() bool {
	return o.Status != StatusRejected && o.Status != StatusDiscarded
}
