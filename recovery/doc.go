// Package recovery builds offline recovery kits from the authentication
// ceremony's secondary secret.
//
// The secondary secret backs the fallback unlock path: when the cooperator
// can no longer remove its lock, the long-term secret is still recoverable
// from the recovery ciphertext plus this secret. Splitting it with Shamir
// secret sharing lets account owners distribute custody of that last resort
// across several locations without any single share being sufficient.
package recovery
