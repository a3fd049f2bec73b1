// Package cmd implements the command-line interface for inboxtriage.
//
// This package provides the following commands:
//   - auth: Authorize Gmail access for an account
//   - draft: Draft a reply to a thread interactively
//   - reclassify: Refresh the labels of a thread after a new message
//   - label: Set the workflow label of a thread
//   - history: Inspect or clear persisted draft sessions
//   - watch: Poll for new mail and reclassify threads as it arrives
//   - version: Display version information
package cmd
