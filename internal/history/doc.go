// Package history stores the draft conversation of each thread: the
// instruction and draft turns exchanged with the generator, and the draft
// currently shown to the user.
//
// Records are JSON documents behind a small Backend interface with
// in-memory, SQLite and Valkey implementations. Every read is validated
// against a JSON schema; anything that does not match is discarded.
package history
