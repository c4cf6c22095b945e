// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Describes supervision, normalization flow and the query surface

// Package gateway composes adapters, pipeline, store and outbound
// controller into one supervised process.
//
// The Supervisor owns every adapter's connection lifecycle: connect
// with exponential backoff, pump events, reconnect on failure. A
// channel that cannot connect keeps retrying forever and reports its
// state through ChannelStates; one dead platform never takes the
// gateway down.
//
// The HTTP surface is read-only: health probes, aggregate stats,
// recent and unprocessed message queries, channel state and Prometheus
// metrics. Outbound actions go through the outbound package, never
// through HTTP.
package gateway
