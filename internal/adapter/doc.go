// ABOUTME: Package documentation for channel adapters
// ABOUTME: Describes the adapter contract and the built-in platform implementations

// Package adapter wraps external messaging platforms behind a single
// capability interface: connect, listen, normalize, send.
//
// # Contract
//
// Listen produces platform-native RawEvents; Normalize maps them onto
// the canonical message shape. The two are split so the original
// payload survives for forensic replay and so normalization can be
// tested without a live connection. Normalize returns ErrSkip for
// events that have no canonical representation; callers count skips
// rather than fabricating placeholder messages.
//
// Listen blocks when the shared events channel is full. Adapters whose
// transport cannot tolerate blocking (Discord's gateway callbacks)
// buffer internally up to a fixed bound and drop beyond it, keeping a
// drop count.
//
// # Implementations
//
// TelegramAdapter long-polls the Bot API. DiscordAdapter rides a
// discordgo gateway session. MockAdapter is an in-memory double for
// tests. Credentials live in per-adapter TOML files with ${VAR}
// environment expansion so tokens stay out of checked-in config.
package adapter
