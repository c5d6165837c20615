package model

// Outcome classifies what happened to one observation.
type Outcome string

const (
	OutcomeMatched        Outcome = "matched"
	OutcomeNoCandidate    Outcome = "no_candidate"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeDeferred       Outcome = "deferred" // ambiguous, held for manual review
	OutcomeInsufficient   Outcome = "insufficient_names"
	OutcomeMalformed      Outcome = "malformed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeFailed         Outcome = "failed"
	OutcomeCancelled      Outcome = "cancelled"
)

// MatchedPair traces which roster name an observed name was credited to.
type MatchedPair struct {
	Observed    string  `json:"observed"`
	Participant string  `json:"participant"`
	Score       float64 `json:"score"`
}

// MatchCandidateScore is the scorer's verdict for one battle.
type MatchCandidateScore struct {
	BattleID     string
	Score        float64
	MatchedPairs []MatchedPair
}

// ScreenshotMatch is an observation that cleared the confidence threshold.
type ScreenshotMatch struct {
	VideoID          string
	TimestampSeconds int
	BattleID         string
	Score            float64
	Ambiguous        bool
	RunnerUpBattleID string
	RunnerUpScore    float64
	ObservedCount    int
	RosterCount      int
	MatchedPairs     []MatchedPair
}

// VideoBattleLink is the persisted unit of output.
type VideoBattleLink struct {
	VideoID                 string
	BattleID                string
	RepresentativeTimestamp int
	Score                   float64
	Ambiguous               bool
	ObservedCount           int
	RosterCount             int
}

// Decision records the full result for one observation, matched or not.
type Decision struct {
	Key        ObservationKey
	Outcome    Outcome
	Reference  TimeReference
	Degraded   bool // whole index searched for lack of a time reference
	Candidates int

	// Best is the top candidate even when it did not clear the threshold.
	Best     *MatchCandidateScore
	RunnerUp *MatchCandidateScore

	// Match is set only for OutcomeMatched.
	Match *ScreenshotMatch

	Err error
}
