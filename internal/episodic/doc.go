// Package episodic implements the knowledge lifecycle engine at the heart of
// recalld.
//
// The engine records discrete experiences (episodes), mines recurring
// behavior into patterns, distills patterns into lessons, and continuously
// re-scores every lesson's trustworthiness as time passes and as lessons are
// exercised.
//
// # Scoring
//
// Each episode receives four derived scores at insert time, never
// recomputed: novelty (how unusual the problem is among recent same-type
// episodes), effectiveness (outcome, optionally blended with a caller
// quality score), generalizability (dependency/trigger/frequency shape of
// the metadata), and utility (the fixed 0.3/0.5/0.2 weighted combination).
//
// # Decay and belief updates
//
// Patterns and lessons share one temporal decay law: the displayed
// confidence is initial · e^(−k·Δdays) since the last validation, computed
// at read time and never persisted. Applying a lesson blends the decayed
// prior with the observed outcome, weighted toward the prior while the
// lesson is young; the update writes a new initial confidence and resets the
// decay clock.
//
// # Retention
//
// The Cleanup sweep deletes episodes past the retention window, deletes
// patterns unseen for twice the window, and deprecates (never deletes)
// stale, low-confidence or never-used lessons. Deprecation is monotonic:
// there is no un-deprecate operation.
package episodic
