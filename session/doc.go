// Package session implements the capability-scoped session store and the
// one-time channels that carry the wrap-key seed into signing units.
//
// A capability is a bearer token scoped to one session id, limited by a TTL
// and a remaining-use budget. Dispensing is atomic: concurrent requests for
// the last remaining use race inside a single critical section and exactly
// one wins. A capability minted for one session id is never served to
// another.
package session
