// ABOUTME: Package documentation for the ingestion pipeline
// ABOUTME: Explains ordering, backpressure and degradation behavior

// Package pipeline turns normalized messages into classified, persisted
// records and fans them out to registered consumers.
//
// Ordering is per conversation: messages are routed to a fixed worker
// by hashing (channel, conversation), so a conversation's messages are
// processed in arrival order while unrelated conversations proceed in
// parallel. The intake channel is bounded; a full queue blocks Enqueue,
// which is how backpressure reaches the adapters.
//
// Store writes pass through a circuit breaker. When the database stops
// accepting writes the breaker opens, the degraded gauge rises and
// messages fail fast with bounded retries instead of piling up behind
// a dead disk.
package pipeline
