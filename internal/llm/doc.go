// Package llm talks to the language models that write reply drafts and
// classify threads.
//
// Two backends are supported: the Anthropic Messages API and Anthropic
// models hosted on Amazon Bedrock. Failed calls surface as
// *triageerr.ProviderError carrying the HTTP status, so callers can apply
// the shared retry policy. Unusable output surfaces as
// *triageerr.ValidationError.
package llm
