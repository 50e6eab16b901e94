// Package tokenstore persists the remember-me value across process restarts.
//
// Three backends are available:
//   - File: local file with atomic writes and 0600 permissions
//   - Env: read-only environment variable, for deployments that inject the value
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// The stored value is a convenience only. The server-managed refresh cookie
// stays the source of truth, so callers treat a missing or stale value as
// "not remembered".
package tokenstore
