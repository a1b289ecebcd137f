// Package derive implements the two-factor key derivation pipeline and the
// AEAD sealing used throughout the custody engine.
//
// The pipeline is a pure HKDF-SHA256 chain:
//
//	passFactor  = HKDF(authSecret,                    info="wrap-pass")
//	wrapKeySeed = HKDF(passFactor || longTermSecret,  info="wrap-seed")
//	nearKEK     = HKDF(wrapKeySeed, salt=wrapKeySalt, info="near-kek")
//
// Each step is deterministic for fixed inputs and every derived value depends
// on all of its inputs, so possession of any single intermediate is
// insufficient to reach the decryption key.
package derive
