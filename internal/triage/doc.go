// Package triage reacts to new mail. Each inbound message either clears
// the thread's workflow label, when the user sent it, or re-runs the
// classifier over the recent conversation and replaces the thread's AI
// labels with the validated result.
package triage
