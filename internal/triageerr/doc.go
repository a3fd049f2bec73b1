// Package triageerr defines the error taxonomy shared by the triage engine:
// rejected triggers, transient and permanent provider failures, malformed
// model output, history storage failures, and partial failures where a
// primary action succeeded but a follow-up did not.
package triageerr
