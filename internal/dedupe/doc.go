// Package dedupe suppresses replayed message IDs within a sliding
// window, keeping reconnect storms off the store's write path.
package dedupe
