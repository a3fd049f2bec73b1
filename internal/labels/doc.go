// Package labels reconciles the triage label namespaces on provider
// messages.
//
// Two namespaces are managed: workflow_ labels, of which a message carries
// at most one, and ai_ labels, which are replaced as a whole by each
// classification. Every other label is left alone.
//
// A label operation runs in four steps: list the account's folders and
// build a Resolver, read each target message's labels, compute a Delta
// against them, and write the translated result back only when it differs.
// Writes go through the shared retry policy with bounded parallelism, and
// failures are reported per message.
package labels
