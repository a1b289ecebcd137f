// Package lockhandler exposes the cooperator's commutative lock service over
// HTTP and provides a matching client.
//
// The API is deliberately tiny: apply a lock to a blinded value, remove a
// lock identified by an exact key id, and advertise the current keyring. The
// cooperator never sees unblinded secret material, so the transport carries
// only blinded big-integer values, hex encoded.
//
// Both Handler and Client speak the same JSON shapes, and Client implements
// interfaces.LockService so callers are indifferent to whether the cooperator
// runs in-process or behind HTTP.
package lockhandler
