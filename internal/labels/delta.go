package labels

import (
	"fmt"
	"sort"
	"strings"
)

// Label name prefixes that partition the namespace managed here.
const (
	WorkflowPrefix = "workflow_"
	AIPrefix       = "ai_"
)

// WorkflowLabel is the human-actionable state of a thread. At most one
// workflow label is present on a message.
type WorkflowLabel string

const (
	WorkflowNone      WorkflowLabel = "none"
	WorkflowToRespond WorkflowLabel = "to_respond"
	WorkflowToRead    WorkflowLabel = "to_read"
	WorkflowDrafted   WorkflowLabel = "drafted"
)

// ParseWorkflowLabel accepts either the short form ("drafted") or the full
// label name ("workflow_drafted").
func ParseWorkflowLabel(s string) (WorkflowLabel, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), WorkflowPrefix)
	switch WorkflowLabel(s) {
	case WorkflowNone, WorkflowToRespond, WorkflowToRead, WorkflowDrafted:
		return WorkflowLabel(s), nil
	case "":
		return WorkflowNone, nil
	}
	return "", fmt.Errorf("unknown workflow label %q (want none, to_respond, to_read or drafted)", s)
}

// Name returns the provider label name, or "" for WorkflowNone.
func (w WorkflowLabel) Name() string {
	if w == WorkflowNone || w == "" {
		return ""
	}
	return WorkflowPrefix + string(w)
}

// Update is a desired change to one label namespace.
type Update interface {
	// Prefix is the namespace the update owns.
	Prefix() string
	// Desired is the complete set of names the namespace should hold.
	Desired() []string
	String() string
}

// WorkflowUpdate replaces any workflow label with Target.
type WorkflowUpdate struct {
	Target WorkflowLabel
}

func (u WorkflowUpdate) Prefix() string { return WorkflowPrefix }

func (u WorkflowUpdate) Desired() []string {
	if name := u.Target.Name(); name != "" {
		return []string{name}
	}
	return nil
}

func (u WorkflowUpdate) String() string { return "workflow=" + string(u.Target) }

// AIUpdate replaces the whole ai_ label set with Labels. An empty set
// clears it.
type AIUpdate struct {
	Labels []string
}

func (u AIUpdate) Prefix() string { return AIPrefix }

func (u AIUpdate) Desired() []string { return u.Labels }

func (u AIUpdate) String() string { return "ai=[" + strings.Join(u.Labels, ",") + "]" }

// Delta is the set of label names to add and remove on one message.
type Delta struct {
	ToAdd    []string
	ToRemove []string
}

// IsEmpty reports whether applying the delta changes nothing.
func (d Delta) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Apply returns current with the delta applied. Existing order is kept
// and additions are appended.
func (d Delta) Apply(current []string) []string {
	remove := toSet(d.ToRemove)
	out := make([]string, 0, len(current)+len(d.ToAdd))
	seen := make(map[string]struct{}, len(current)+len(d.ToAdd))
	for _, name := range current {
		if _, drop := remove[name]; drop {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range d.ToAdd {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (d Delta) String() string {
	return fmt.Sprintf("+[%s] -[%s]", strings.Join(d.ToAdd, ","), strings.Join(d.ToRemove, ","))
}

// ComputeDelta returns what must change on a message holding current so
// that the update's namespace holds exactly the desired names. Names
// outside the namespace are never touched, and desired names outside it
// are ignored. The delta is empty when the result equals current.
func ComputeDelta(current []string, u Update) Delta {
	prefix := u.Prefix()

	next := make(map[string]struct{}, len(current))
	for _, name := range current {
		if !strings.HasPrefix(name, prefix) {
			next[name] = struct{}{}
		}
	}
	for _, name := range u.Desired() {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			next[name] = struct{}{}
		}
	}

	cur := toSet(current)
	if sameKeys(cur, next) {
		return Delta{}
	}

	var d Delta
	for name := range next {
		if _, ok := cur[name]; !ok {
			d.ToAdd = append(d.ToAdd, name)
		}
	}
	for name := range cur {
		if _, ok := next[name]; !ok {
			d.ToRemove = append(d.ToRemove, name)
		}
	}
	sort.Strings(d.ToAdd)
	sort.Strings(d.ToRemove)
	return d
}

// SameSet reports whether a and b contain the same names, ignoring order
// and duplicates.
func SameSet(a, b []string) bool {
	return sameKeys(toSet(a), toSet(b))
}

// WithPrefix returns the names in labels that start with prefix, sorted.
func WithPrefix(labels []string, prefix string) []string {
	var out []string
	for _, name := range labels {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func sameKeys(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
