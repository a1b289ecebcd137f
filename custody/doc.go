// Package custody is the orchestration layer of keywarden. It wires the
// challenge engine, the cooperator's commutative lock service, the key
// derivation pipeline, the session capability store and durable blob storage
// into three user-facing operations:
//
//   - Register: enroll an account, splitting custody of the key-encryption
//     key between the service and the cooperator.
//   - Unlock: the cold path. Runs the authentication ceremony, undoes the
//     cooperator's lock with a fresh ephemeral blinding and mints a bounded
//     session capability.
//   - Sign: the warm path. Spends one capability use and delegates the
//     actual signature to a single-use ephemeral signing unit.
//
// The custody service itself keeps no per-account secrets between calls.
// Failure handling is asymmetric on purpose: lock-removal failures fall back
// to the recovery ciphertext and heal the record, capability failures fall
// back to the cold path, derivation failures are fatal for the request.
package custody
