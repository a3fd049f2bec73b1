package google

import gmail "google.golang.org/api/gmail/v1"

// Scopes are the Google OAuth scopes inboxtriage requests: label changes
// and watching history need modify, saving replies needs compose.
var Scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailComposeScope,
}
