// Package logging provides structured logging for SmartAC Core.
//
// It wraps log/slog so every component logs through one configuration:
// JSON output for production, text for development, level filtering, and
// service/version fields on every entry.
//
// Never log wifi credentials or broker passwords.
package logging
