// Package cryptoutil provides the primitives behind the realtime handshake.
//
// It supports:
//   - SHA-256 key derivation from the project secret
//   - AES-256-GCM sealing with a fresh 12-byte nonce and a detached tag
//   - Short fingerprints of secrets for logs
package cryptoutil
