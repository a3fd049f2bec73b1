// Package session runs the draft workflow for one open thread: generate a
// reply, revise it, then approve or skip it.
//
// A Session accepts one operation at a time. Each operation captures a
// Token when it starts and checks it again after every network call;
// navigating to another thread or closing the session replaces the token,
// so late results for the old thread are dropped without touching its
// history or the visible draft.
package session
