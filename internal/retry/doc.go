// Package retry implements the single backoff policy used for every call
// that leaves the process: label reads and writes against the mail
// provider, and classifier requests. Only transient failures are retried.
package retry
