// Package challenge builds domain-separated, freshness-bound authentication
// challenges and produces and verifies VRF proofs over them.
//
// The VRF makes server-side challenge storage unnecessary: the verifier can
// recompute the challenge input from public state (user, relying party,
// recent block) and check that the presented output was produced by the
// registered key over exactly that input. Output determinism for a fixed
// (key, input) pair makes ceremony retries idempotent; inputs are unique per
// ceremony, so determinism does not enable replay.
package challenge
