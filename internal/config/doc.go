// Package config handles configuration loading for unigate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults. Per-adapter
// credential files are separate TOML files referenced from the channels
// section (see internal/adapter).
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	channels:
//	  telegram:
//	    credentials_file: "${HOME}/.config/unigate/telegram.toml"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	pipeline:
//	  mention_stale_medium: "48h"
//	  mention_stale_high: "72h"
//	supervisor:
//	  backoff_initial: "1s"
//	  backoff_max: "1m"
//
// # Configuration Sections
//
// Server:
//
//	server:
//	  http_addr: "127.0.0.1:8800"  # read-only query API and /metrics
//
// Database:
//
//	database:
//	  path: "/var/lib/unigate/gateway.db"
//
// Pipeline policy (urgent keywords and staleness thresholds are operator
// policy, never hardcoded):
//
//	pipeline:
//	  queue_size: 256
//	  workers: 4
//	  urgent_keywords: ["urgent", "ASAP", "now"]
//	  mention_stale_medium: "48h"
//	  mention_stale_high: "72h"
//	  notify_rate_per_minute: 10
//
// Outbound safety:
//
//	outbound:
//	  drafts_dir: "/var/lib/unigate/drafts"
//	  max_send_retries: 3
//	  send_rate_per_minute: 10
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
