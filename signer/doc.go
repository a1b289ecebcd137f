// Package signer runs ephemeral, single-use signing units. One unit is
// spawned per signing request, receives the wrap-key seed over a one-time
// channel, derives the decryption key locally, signs and dies. The long-term
// secret and the decryption key never exist in the orchestrator's context.
package signer
