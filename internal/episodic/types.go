package episodic

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/store"
)

// Common errors for episodic memory operations.
var (
	// ErrNotFound indicates a lesson or episode id did not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientEvidence indicates fewer than the minimum number of
	// episodes were supplied to form a lesson.
	ErrInsufficientEvidence = errors.New("insufficient evidence")

	ErrEmptyOperationType = errors.New("operation type cannot be empty")
	ErrEmptyStatement     = errors.New("lesson statement cannot be empty")
	ErrInvalidOutcome     = errors.New("outcome must be 'success', 'failure', or 'partial'")
)

// Fixed engine constants. The utility weights sum to 1.0 by construction so
// the utility score stays within [0,1].
const (
	// Utility score weights (novelty / effectiveness / generalizability).
	utilityNoveltyWeight          = 0.3
	utilityEffectivenessWeight    = 0.5
	utilityGeneralizabilityWeight = 0.2

	// Novelty looks at up to this many most-recent same-type episodes and
	// never drops below the floor.
	noveltyLookback = 50
	noveltyFloor    = 0.1

	// Effectiveness blend when a caller supplies a quality score.
	effectivenessBaseWeight    = 0.6
	effectivenessQualityWeight = 0.4

	// Generalizability component bounds.
	generalizabilityBase   = 0.5
	dependencyPenaltyCap   = 0.3
	dependencyPenaltyStep  = 0.1
	triggerBonusCap        = 0.2
	triggerBonusStep       = 0.05
	typeFrequencyBonusCap  = 0.3
	typeFrequencyBonusStep = 0.1
	typeFrequencyLookback  = 1000

	// DefaultDecayConstant is the per-day exponential decay rate applied to
	// pattern and lesson confidence (half-life of roughly two weeks).
	DefaultDecayConstant = 0.05

	// Pattern detection thresholds.
	minPatternEpisodes      = 3
	recencyWindowDays       = 30
	patternScanLimit        = 500
	minDiscriminationWeight = 0.3
	successRateHigh         = 0.6
	successRateLow          = 0.4
	newPatternConfidenceMax = 0.8
	newPatternConfidenceOff = 0.4

	// Lesson lifecycle thresholds.
	minLessonConfidence       = 0.3
	maxLessonConfidence       = 0.9
	applyConfidenceFloor      = 0.1
	applyConfidenceCeil       = 0.95
	deprecationThreshold      = 0.1
	deprecationMinApplied     = 5
	minApplyPriorWeight       = 0.3
	applySuccessRateWeight    = 0.7
	applyEvidenceWeight       = 0.3

	// Retention sweep defaults.
	DefaultRetentionDays    = 90
	staleLessonConfidence   = 0.2

	// Confidence bucket boundaries for lesson reports.
	bucketHighConfidence   = 0.7
	bucketMediumConfidence = 0.4
)

// RecordRequest is the input to RecordExperience.
type RecordRequest struct {
	OperationType string        `json:"operation_type"`
	Outcome       store.Outcome `json:"outcome"`
	ServerName    string        `json:"server_name,omitempty"`
	Problem       store.Payload `json:"problem,omitempty"`
	Solution      store.Payload `json:"solution,omitempty"`
	Metadata      store.Payload `json:"metadata,omitempty"`
	QualityScore  *float64      `json:"quality_score,omitempty"`
	DurationMS    *int64        `json:"duration_ms,omitempty"`
	Notes         string        `json:"notes,omitempty"`

	// Timestamp defaults to the current time when zero.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// PatternChange describes a pattern created or refreshed as a side effect of
// recording an experience.
type PatternChange struct {
	PatternID   int64  `json:"pattern_id"`
	Description string `json:"description"`
	Created     bool   `json:"created"`
}

// RecordResult is the output of RecordExperience.
type RecordResult struct {
	EpisodeID             int64           `json:"episode_id"`
	NoveltyScore          float64         `json:"novelty_score"`
	EffectivenessScore    float64         `json:"effectiveness_score"`
	GeneralizabilityScore float64         `json:"generalizability_score"`
	UtilityScore          float64         `json:"utility_score"`
	Patterns              []PatternChange `json:"patterns,omitempty"`
}

// LearnRequest is the input to LearnFromPattern.
type LearnRequest struct {
	PatternDescription string  `json:"pattern_description"`
	EpisodeIDs         []int64 `json:"episode_ids"`
	LessonStatement    string  `json:"lesson_statement"`
}

// LearnResult is the output of LearnFromPattern.
type LearnResult struct {
	LessonID          int64    `json:"lesson_id"`
	PatternID         int64    `json:"pattern_id"`
	InitialConfidence float64  `json:"initial_confidence"`
	Contexts          []string `json:"contexts,omitempty"`
}

// ApplyResult is the output of ApplyLesson.
type ApplyResult struct {
	LessonID           int64   `json:"lesson_id"`
	PreviousConfidence float64 `json:"previous_confidence"`
	NewConfidence      float64 `json:"new_confidence"`
	TimesApplied       int     `json:"times_applied"`
	SuccessRate        float64 `json:"success_rate"`
	Deprecated         bool    `json:"deprecated"`
}

// RecallResult is a page of episodes with related patterns.
type RecallResult struct {
	Episodes       []*store.Episode `json:"episodes"`
	Patterns       []*store.Pattern `json:"patterns,omitempty"`
	AverageUtility float64          `json:"avg_utility"`
}

// LessonView pairs a lesson with its read-time decayed confidence. The
// decayed value is a projection, never written back.
type LessonView struct {
	*store.Lesson
	CurrentConfidence float64 `json:"current_confidence"`
}

// LessonSummary buckets lessons by decayed confidence.
type LessonSummary struct {
	High   int `json:"high"`   // >= 0.7
	Medium int `json:"medium"` // [0.4, 0.7)
	Low    int `json:"low"`    // < 0.4
}

// LessonReport is the output of Lessons.
type LessonReport struct {
	Lessons []LessonView  `json:"lessons"`
	Summary LessonSummary `json:"summary"`
}

// CleanupResult reports what the retention sweep did.
type CleanupResult struct {
	EpisodesDeleted   int64 `json:"episodes_deleted"`
	PatternsDeleted   int64 `json:"patterns_deleted"`
	LessonsDeprecated int64 `json:"lessons_deprecated"`
}
