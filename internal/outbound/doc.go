// ABOUTME: Package documentation for the outbound path
// ABOUTME: Explains the draft, confirm, send state machine

// Package outbound implements the send safety gate. An outgoing message
// is first written as a reviewable draft artifact plus a persisted
// record; only an explicit confirmation unlocks sending. Confirmation
// arrives either through the Controller API or by dropping a
// `<draft-id>.confirm` marker into the drafts directory, which the
// Watcher picks up.
//
// Sends are rate limited per channel and retried a bounded number of
// times. A draft whose retries are exhausted stays confirmed on disk
// and in the store, ready for inspection and resubmission. Drafts are
// never expired or deleted automatically.
package outbound
