package app

import (
	"time"

	"pulsequiz-sync/internal/domain"
)

// State is the client-side view of one session. It is only ever produced by
// Reduce; callers receive copies and must not mutate them.
type State struct {
	Snapshot domain.SessionSnapshot

	Leaderboard     []domain.LeaderboardEntry
	leaderboardAsOf int

	Reveal *domain.RevealResults
	Stats  *domain.QuestionStats

	// Answered holds player ids that answered the current question.
	Answered map[string]bool

	// UI-only state for the current question.
	SelectedAnswer   *int
	ChallengeFlagged bool

	// TargetCount is the number of questions the session is expected to reach.
	TargetCount int

	startedIndex int
	overlays     map[int]overlay
	reconcileSeq int
}

// overlay buffers dispute records by question index until the result record exists.
type overlay struct {
	Challenge      *domain.Challenge
	Resolution     *domain.ChallengeResolution
	AIVerification *domain.AIVerification
	Reconciliation *domain.ScoreReconciliation

	reconciliationApplied bool
	reconciledSeq         int
}

// NewState returns the empty state for a session code.
func NewState(code string) State {
	return State{
		Snapshot: domain.SessionSnapshot{
			Code:   code,
			Status: domain.StatusLobby,
		},
		leaderboardAsOf: -1,
		startedIndex:    -1,
		Answered:        map[string]bool{},
		overlays:        map[int]overlay{},
	}
}

func (s State) clone() State {
	c := s
	c.Snapshot.Players = make([]domain.Player, len(s.Snapshot.Players))
	for i, p := range s.Snapshot.Players {
		c.Snapshot.Players[i] = clonePlayer(p)
	}
	c.Snapshot.Questions = append([]domain.Question(nil), s.Snapshot.Questions...)
	if s.Snapshot.TimerRemaining != nil {
		c.Snapshot.TimerRemaining = domain.Index(*s.Snapshot.TimerRemaining)
	}
	c.Snapshot.RevealResults = nil
	c.Leaderboard = append([]domain.LeaderboardEntry(nil), s.Leaderboard...)
	if s.Reveal != nil {
		r := domain.RevealResults{
			Players:   append([]domain.PlayerResult(nil), s.Reveal.Players...),
			Questions: append([]domain.QuestionResult(nil), s.Reveal.Questions...),
		}
		c.Reveal = &r
	}
	if s.Stats != nil {
		st := *s.Stats
		st.Distribution = append([]int(nil), s.Stats.Distribution...)
		c.Stats = &st
	}
	c.Answered = make(map[string]bool, len(s.Answered))
	for id := range s.Answered {
		c.Answered[id] = true
	}
	if s.SelectedAnswer != nil {
		c.SelectedAnswer = domain.Index(*s.SelectedAnswer)
	}
	c.overlays = make(map[int]overlay, len(s.overlays))
	for idx, o := range s.overlays {
		c.overlays[idx] = o
	}
	return c
}

func clonePlayer(p domain.Player) domain.Player {
	c := p
	c.Answers = make(map[int]int, len(p.Answers))
	for k, v := range p.Answers {
		c.Answers[k] = v
	}
	if p.AnswerTimes != nil {
		c.AnswerTimes = make(map[int]float64, len(p.AnswerTimes))
		for k, v := range p.AnswerTimes {
			c.AnswerTimes[k] = v
		}
	}
	return c
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s State) Clone() State {
	return s.clone()
}

func (s State) playerIndex(id string) int {
	for i := range s.Snapshot.Players {
		if s.Snapshot.Players[i].ID == id {
			return i
		}
	}
	return -1
}

// Player looks up a player by id.
func (s State) Player(id string) (domain.Player, bool) {
	if i := s.playerIndex(id); i >= 0 {
		return s.Snapshot.Players[i], true
	}
	return domain.Player{}, false
}

// CurrentQuestion returns the question being played, if any.
func (s State) CurrentQuestion() (domain.Question, bool) {
	idx := s.Snapshot.CurrentQuestionIndex
	if s.Snapshot.Status == domain.StatusLobby || idx < 0 || idx >= len(s.Snapshot.Questions) {
		return domain.Question{}, false
	}
	return s.Snapshot.Questions[idx], true
}

// RemainingQuestions counts loaded questions after the current one.
func (s State) RemainingQuestions() int {
	n := len(s.Snapshot.Questions) - s.Snapshot.CurrentQuestionIndex - 1
	if n < 0 {
		return 0
	}
	return n
}

// Standings returns the authoritative leaderboard when one was pushed,
// otherwise a ranking derived from local player data.
func (s State) Standings() []domain.LeaderboardEntry {
	if len(s.Leaderboard) > 0 {
		return append([]domain.LeaderboardEntry(nil), s.Leaderboard...)
	}
	return Rank(StandingsFromPlayers(s.Snapshot.Players, s.Snapshot.Questions))
}

// AnswerStatus splits players into answered and waiting for the current question.
func (s State) AnswerStatus() domain.AnswerStatus {
	status := domain.AnswerStatus{Answered: []string{}, Waiting: []string{}}
	for _, p := range s.Snapshot.Players {
		if s.Answered[p.ID] {
			status.Answered = append(status.Answered, p.ID)
		} else {
			status.Waiting = append(status.Waiting, p.ID)
		}
	}
	return status
}

// QuestionResult returns the revealed record for a question with every
// buffered dispute overlay applied.
func (s State) QuestionResult(idx int) (domain.QuestionResult, bool) {
	if s.Reveal == nil || idx < 0 || idx >= len(s.Reveal.Questions) || idx >= len(s.Snapshot.Questions) {
		return domain.QuestionResult{}, false
	}
	return s.Reveal.Questions[idx], true
}

// Dispute returns whatever has been received for a question's challenge,
// whether or not its result record exists yet.
func (s State) Dispute(idx int) (challenge *domain.Challenge, resolution *domain.ChallengeResolution, ai *domain.AIVerification, rec *domain.ScoreReconciliation) {
	o, ok := s.overlays[idx]
	if !ok {
		return nil, nil, nil, nil
	}
	return o.Challenge, o.Resolution, o.AIVerification, o.Reconciliation
}

// AnswerRecord is one scored answer, used to calibrate content generation.
type AnswerRecord struct {
	QuestionIndex int
	Correct       bool
	ResponseTime  time.Duration
}

// AnswerRecords lists answers whose correctness is known, in question order.
// An empty playerID aggregates every player.
func (s State) AnswerRecords(playerID string) []AnswerRecord {
	var records []AnswerRecord
	for qIdx, q := range s.Snapshot.Questions {
		if q.Correct < 0 {
			continue
		}
		for _, p := range s.Snapshot.Players {
			if playerID != "" && p.ID != playerID {
				continue
			}
			choice, ok := p.Answers[qIdx]
			if !ok {
				continue
			}
			records = append(records, AnswerRecord{
				QuestionIndex: qIdx,
				Correct:       choice == q.Correct,
				ResponseTime:  time.Duration(p.AnswerTimes[qIdx] * float64(time.Second)),
			})
		}
	}
	return records
}
