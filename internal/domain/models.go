package domain

// SessionStatus is the lifecycle phase of a quiz session.
type SessionStatus string

const (
	StatusLobby    SessionStatus = "lobby"
	StatusPlaying  SessionStatus = "playing"
	StatusRevealed SessionStatus = "revealed"
)

// Question models a multiple choice question. Correct is -1 while the round is
// in progress because the server hides the answer from clients.
type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
	Points      int      `json:"points"` // defaults to 1 if zero
}

// Player is a participant as reported by the server.
type Player struct {
	ID          string          `json:"id"`
	Nickname    string          `json:"nickname"`
	Score       int             `json:"score"`
	Answers     map[int]int     `json:"answers"`
	AnswerTimes map[int]float64 `json:"answer_times,omitempty"`
}

// TotalTime is the cumulative answer time in seconds, used as a ranking tie-break.
func (p Player) TotalTime() float64 {
	var total float64
	for _, t := range p.AnswerTimes {
		total += t
	}
	return total
}

// GameSettings carries timer and auto-progress configuration.
type GameSettings struct {
	TimerMode           bool `json:"timerMode"`
	TimerSeconds        int  `json:"timerSeconds"`
	AutoProgressMode    bool `json:"autoProgressMode"`
	AutoProgressPercent int  `json:"autoProgressPercent"`
}

// SessionSnapshot is the wire shape of a full session state.
type SessionSnapshot struct {
	Code                 string         `json:"code"`
	Status               SessionStatus  `json:"status"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	Players              []Player       `json:"players"`
	Questions            []Question     `json:"questions"`
	RoundSize            int            `json:"roundSize"`
	Settings             GameSettings   `json:"settings"`
	TimerRemaining       *int           `json:"timerRemaining"`
	RevealResults        *RevealResults `json:"revealResults,omitempty"`
}

// LeaderboardEntry is a ranked, derived view of a player.
type LeaderboardEntry struct {
	ID             string `json:"id"`
	Nickname       string `json:"nickname"`
	Score          int    `json:"score"`
	Rank           int    `json:"rank"`
	CorrectAnswers int    `json:"correctAnswers"`
	TotalAnswers   int    `json:"totalAnswers"`
}

// PlayerResult is a player's final standing.
type PlayerResult struct {
	ID        string  `json:"id"`
	Nickname  string  `json:"nickname"`
	Score     int     `json:"score"`
	Rank      int     `json:"rank"`
	TotalTime float64 `json:"totalTime"`
}

// QuestionResult is a revealed question, optionally personalised for the
// requesting player, with any dispute overlays applied.
type QuestionResult struct {
	Question          string   `json:"question"`
	Options           []string `json:"options"`
	Correct           int      `json:"correct"`
	Explanation       string   `json:"explanation,omitempty"`
	Points            int      `json:"points"`
	YourAnswer        *int     `json:"yourAnswer,omitempty"`
	AnsweredCorrectly *bool    `json:"answeredCorrectly,omitempty"`

	Challenge      *Challenge           `json:"challenge,omitempty"`
	Resolution     *ChallengeResolution `json:"resolution,omitempty"`
	AIVerification *AIVerification      `json:"aiVerification,omitempty"`
	Reconciliation *ScoreReconciliation `json:"reconciliation,omitempty"`
}

// RevealResults is the payload of the reveal phase.
type RevealResults struct {
	Players   []PlayerResult   `json:"players"`
	Questions []QuestionResult `json:"questions"`
}

// QuestionStats is the answer distribution for one question.
type QuestionStats struct {
	QuestionIndex int   `json:"questionIndex"`
	TotalPlayers  int   `json:"totalPlayers"`
	AnsweredCount int   `json:"answeredCount"`
	Distribution  []int `json:"distribution"`
}

// ChallengeStatus tracks a dispute through review.
type ChallengeStatus string

const (
	ChallengeOpen        ChallengeStatus = "open"
	ChallengeUnderReview ChallengeStatus = "under_review"
	ChallengeResolved    ChallengeStatus = "resolved"
)

// Verdict is the outcome of a challenge review.
type Verdict string

const (
	VerdictValid     Verdict = "valid"
	VerdictInvalid   Verdict = "invalid"
	VerdictAmbiguous Verdict = "ambiguous"
)

// ReconciliationPolicy describes how scores were adjusted after a resolution.
type ReconciliationPolicy string

const (
	PolicyVoid           ReconciliationPolicy = "void"
	PolicyAwardAll       ReconciliationPolicy = "award_all"
	PolicyAcceptMultiple ReconciliationPolicy = "accept_multiple"
)

// ChallengeSubmission is one player's dispute of a question.
type ChallengeSubmission struct {
	PlayerID  string  `json:"playerId"`
	Nickname  string  `json:"nickname"`
	Note      string  `json:"note,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Challenge accumulates submissions against one question.
type Challenge struct {
	QuestionIndex int                   `json:"questionIndex"`
	Submissions   []ChallengeSubmission `json:"submissions"`
}

// ChallengeResolution is the host's decision on a challenge.
type ChallengeResolution struct {
	Status    ChallengeStatus `json:"status"`
	Verdict   *Verdict        `json:"verdict,omitempty"`
	Note      string          `json:"note,omitempty"`
	Published bool            `json:"published"`
}

// AIVerification is an automated review of a challenged question.
type AIVerification struct {
	Verdict          Verdict `json:"verdict"`
	Confidence       float64 `json:"confidence"`
	Rationale        string  `json:"rationale,omitempty"`
	SuggestedCorrect *int    `json:"suggestedCorrect,omitempty"`
	Published        bool    `json:"published"`
}

// ScoreReconciliation records a post-resolution score adjustment.
type ScoreReconciliation struct {
	Policy          ReconciliationPolicy `json:"policy"`
	AcceptedAnswers []int                `json:"acceptedAnswers,omitempty"`
	Scores          map[string]int       `json:"scores,omitempty"`
}

// AnswerStatus lists who has and hasn't answered the current question.
type AnswerStatus struct {
	Answered []string `json:"answered"`
	Waiting  []string `json:"waiting"`
}
