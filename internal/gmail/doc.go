// Package gmail is the mail provider client for inboxtriage.
//
// It offers:
//   - Label access for the label engine (ListFolders, GetMessageLabels,
//     SetMessageLabels, GetThread) so *Client satisfies labels.Provider
//   - Thread rendering for the draft generator and classifier
//   - Reply drafts threaded onto the original conversation
//   - Inbound message polling through the mailbox history
//
// The client supports multi-account authentication through the google
// package. Tokens are loaded from the file system (~/.cache/inboxtriage/).
//
// Every call waits on a per-client rate limiter, is traced as a client span
// and recorded in the google_api_operations metrics. Errors are returned as
// *triageerr.ProviderError so the retry policy can classify them; Gmail's
// rate-limit 403s are reported as 429.
//
// Example usage:
//
//	client, err := gmail.NewClientForAccount(ctx, tokens, "default", gmail.Options{})
//	if err != nil {
//	    return err
//	}
//
//	text, err := client.ThreadContext(ctx, threadID, 10)
package gmail
