// Package google handles OAuth2 authorization for the Gmail API.
//
// Tokens are cached per account on disk (one file per account under the
// user cache directory) and refreshed automatically. The TokenProvider
// interface lets callers plug in other token sources.
package google
