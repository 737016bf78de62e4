package episodic

import (
	"math"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

// NoveltyScore measures how unusual a problem is among the most recent
// same-type episodes. An operation type never seen before scores 1.0; a
// problem whose query matches every recent episode bottoms out at the floor.
func NoveltyScore(problem store.Payload, recent []*store.Episode) float64 {
	if len(recent) == 0 {
		return 1.0
	}
	query := problem.String("query")
	matches := 0
	for _, e := range recent {
		if e.Problem.String("query") == query {
			matches++
		}
	}
	novelty := 1.0 - float64(matches)/float64(len(recent))
	return math.Max(noveltyFloor, novelty)
}

// EffectivenessScore maps an outcome to a base score (success 1.0, partial
// 0.5, failure 0.0) and, when a quality score is supplied, blends it in.
func EffectivenessScore(outcome store.Outcome, quality *float64) float64 {
	var base float64
	switch outcome {
	case store.OutcomeSuccess:
		base = 1.0
	case store.OutcomePartial:
		base = 0.5
	case store.OutcomeFailure:
		base = 0.0
	}
	if quality == nil {
		return base
	}
	return effectivenessBaseWeight*base + effectivenessQualityWeight*(*quality)
}

// GeneralizabilityScore estimates how transferable an episode is: many
// dependencies narrow it, many triggers and a frequently seen operation type
// widen it. typeFrequency is the same-type episode count capped at the
// lookback limit.
func GeneralizabilityScore(metadata store.Payload, typeFrequency int) float64 {
	score := generalizabilityBase
	score -= math.Min(dependencyPenaltyCap, dependencyPenaltyStep*float64(metadata.Count("dependencies")))
	score += math.Min(triggerBonusCap, triggerBonusStep*float64(metadata.Count("triggers")))
	score += math.Min(typeFrequencyBonusCap, typeFrequencyBonusStep*math.Log(float64(typeFrequency)+1))
	return clamp(0.1, 1.0, score)
}

// UtilityScore is the fixed weighted combination of the three component
// scores. The weights sum to 1.0, so valid inputs stay within [0,1].
func UtilityScore(novelty, effectiveness, generalizability float64) float64 {
	return utilityNoveltyWeight*novelty +
		utilityEffectivenessWeight*effectiveness +
		utilityGeneralizabilityWeight*generalizability
}

// CurrentConfidence applies the single temporal-decay law shared by patterns
// and lessons: initial · e^(−k·Δdays), with Δdays in fractional days since
// the last validation. It equals initial exactly when now == lastValidated
// and is non-increasing as time passes.
func CurrentConfidence(initial, decayConstant float64, lastValidated, now time.Time) float64 {
	if lastValidated.IsZero() || !now.After(lastValidated) {
		return initial
	}
	days := now.Sub(lastValidated).Hours() / 24
	return initial * math.Exp(-decayConstant*days)
}

// DiscriminationWeight is the success-rate-weighted, frequency-weighted,
// recency-weighted strength of a pattern. A never-exercised pattern gets a
// neutral 0.5 success prior.
func DiscriminationWeight(succeeded, applied float64, frequency int, lastSeen, now time.Time) float64 {
	successRate := 0.5
	if applied > 0 {
		successRate = succeeded / applied
	}
	ageDays := 0.0
	if !lastSeen.IsZero() && now.After(lastSeen) {
		ageDays = now.Sub(lastSeen).Hours() / 24
	}
	return successRate * math.Log(float64(frequency)+1) * math.Exp(-DefaultDecayConstant*ageDays)
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
