// Package cooperator implements both halves of the Shamir three-pass
// commutative encryption exchange that protects the account KEK.
//
// Both parties lock values by modular exponentiation over a shared prime
// modulus, each holding an exponent pair that is self-inverse mod p-1.
// Because exponentiation commutes, locks can be removed in either order:
//
//	registration: KEK -> client lock -> cooperator lock -> client unlock
//	              leaves the KEK locked only by the cooperator (persisted)
//	unlock:       stored value -> fresh client lock -> cooperator unlock
//	              -> client unlock recovers the KEK
//
// The cooperator only ever operates on blinded values and cannot learn the
// KEK or the secret it protects. Keypairs rotate; retired ones live on a
// bounded, time-boxed grace list addressable strictly by key id.
package cooperator
