// Package classification decides which library an item belongs to and keeps
// the history needed to learn from operator corrections.
//
// Engine.Decide evaluates four tiers in order and stops at the first one that
// accepts: a previous correction for the same item, a learned pattern scoring
// at least 80, the first satisfied custom rule (85), and the AI classifier,
// which always answers (falling back to the first candidate at 30 or 50 when
// its output cannot be parsed or the call fails). Classify wraps Decide with
// enrichment, best-effort routing and persistence.
//
// Reassign is the only way a stored decision changes. It routes first, then
// writes the correction, the updated record and the reinforced patterns in a
// single transaction. The batch orchestrator and the HTTP API both call it.
package classification
