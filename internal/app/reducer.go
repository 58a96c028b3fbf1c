package app

import (
	"fmt"
	"sort"

	"pulsequiz-sync/internal/domain"
)

// Reduce applies one event to a state and returns the new state. The input is
// never modified. Every event kind is safe to apply more than once.
//
// The returned error only reports a malformed payload; the original state is
// returned with it and the event is treated as ignored. Unknown event types and
// `error` events leave the state unchanged with a nil error.
func Reduce(s State, evt domain.Event) (State, error) {
	if s.overlays == nil || s.Answered == nil {
		base := NewState(s.Snapshot.Code)
		if s.Snapshot.Status != "" {
			base.Snapshot = s.Snapshot
		}
		s = base
	}

	switch evt.Type {
	case domain.EventSessionState:
		var p domain.SessionStatePayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		return applySessionState(s.clone(), p.State), nil

	case domain.EventPlayerJoined:
		var p domain.PlayerJoinedPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		if p.Player.ID == "" {
			return s, fmt.Errorf("%s: missing player id", evt.Type)
		}
		n := s.clone()
		n.upsertPlayer(p.Player)
		return n, nil

	case domain.EventPlayerLeft:
		var p domain.PlayerLeftPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		i := s.playerIndex(p.PlayerID)
		if i < 0 {
			return s, nil
		}
		n := s.clone()
		n.Snapshot.Players = append(n.Snapshot.Players[:i], n.Snapshot.Players[i+1:]...)
		delete(n.Answered, p.PlayerID)
		return n, nil

	case domain.EventQuestionStarted:
		var p domain.QuestionStartedPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		if p.QuestionIndex == nil {
			return s, fmt.Errorf("%s: missing questionIndex", evt.Type)
		}
		return applyQuestionStarted(s, *p.QuestionIndex), nil

	case domain.EventAnswerReceived:
		var p domain.AnswerReceivedPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		if p.QuestionIndex == nil || *p.QuestionIndex != s.Snapshot.CurrentQuestionIndex || s.Answered[p.PlayerID] {
			return s, nil
		}
		n := s.clone()
		n.Answered[p.PlayerID] = true
		return n, nil

	case domain.EventRevealed:
		var p domain.RevealedPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		n := s.clone()
		n.applyReveal(p.Results)
		return n, nil

	case domain.EventTimerTick:
		var p domain.TimerTickPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		if s.Snapshot.Status != domain.StatusPlaying {
			return s, nil
		}
		if p.QuestionIndex != nil && *p.QuestionIndex != s.Snapshot.CurrentQuestionIndex {
			return s, nil
		}
		n := s.clone()
		n.Snapshot.TimerRemaining = domain.Index(max(p.Remaining, 0))
		return n, nil

	case domain.EventLeaderboardUpdate:
		var p domain.LeaderboardUpdatePayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		if p.QuestionIndex != nil && *p.QuestionIndex < s.leaderboardAsOf {
			return s, nil
		}
		n := s.clone()
		if p.QuestionIndex != nil {
			n.leaderboardAsOf = *p.QuestionIndex
		}
		n.applyLeaderboard(p.Leaderboard)
		n.reapplyReconciliations(n.leaderboardAsOf)
		return n, nil

	case domain.EventQuestionStats:
		var p domain.QuestionStatsPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		if p.Stats.QuestionIndex != s.Snapshot.CurrentQuestionIndex {
			return s, nil
		}
		n := s.clone()
		st := p.Stats
		st.Distribution = append([]int(nil), p.Stats.Distribution...)
		n.Stats = &st
		return n, nil

	case domain.EventChallengeUpdated:
		var p domain.ChallengeUpdatedPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		return s.withOverlay(p.QuestionIndex, func(o *overlay) {
			c := p.Challenge
			if p.QuestionIndex != nil {
				c.QuestionIndex = *p.QuestionIndex
			}
			o.Challenge = &c
		}), nil

	case domain.EventChallengeResolution:
		var p domain.ChallengeResolutionPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		return s.withOverlay(p.QuestionIndex, func(o *overlay) {
			r := p.Resolution
			o.Resolution = &r
		}), nil

	case domain.EventChallengeAIVerified, domain.EventChallengeAIPublished:
		var p domain.ChallengeAIPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		published := evt.Type == domain.EventChallengeAIPublished
		return s.withOverlay(p.QuestionIndex, func(o *overlay) {
			v := p.Verification
			v.Published = published || v.Published
			if o.AIVerification != nil && o.AIVerification.Published && !v.Published {
				// A late private verification must not hide a published one.
				return
			}
			o.AIVerification = &v
		}), nil

	case domain.EventScoresReconciled:
		var p domain.ScoresReconciledPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		return s.withOverlay(p.QuestionIndex, func(o *overlay) {
			r := p.ScoreReconciliation
			if o.Reconciliation != nil && sameReconciliation(*o.Reconciliation, r) {
				return
			}
			o.Reconciliation = &r
			o.reconciliationApplied = false
		}), nil

	case domain.EventQuestionsUpdated:
		var p domain.QuestionsUpdatedPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		return applyQuestionsUpdated(s, p), nil

	case domain.EventLocalAnswerSelected:
		var p domain.AnswerSelectedPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		if s.Snapshot.Status != domain.StatusPlaying || p.QuestionIndex != s.Snapshot.CurrentQuestionIndex || s.SelectedAnswer != nil {
			return s, nil
		}
		n := s.clone()
		n.SelectedAnswer = domain.Index(p.Choice)
		return n, nil

	case domain.EventLocalChallengeFlagged:
		var p domain.ChallengeFlaggedPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		if p.QuestionIndex != s.Snapshot.CurrentQuestionIndex || s.ChallengeFlagged {
			return s, nil
		}
		n := s.clone()
		n.ChallengeFlagged = true
		return n, nil

	case domain.EventLocalTimerDecrement:
		var p domain.TimerDecrementPayload
		if err := evt.Decode(&p); err != nil {
			return s, err
		}
		t := s.Snapshot.TimerRemaining
		if s.Snapshot.Status != domain.StatusPlaying || p.QuestionIndex != s.Snapshot.CurrentQuestionIndex || t == nil || *t <= 0 {
			return s, nil
		}
		n := s.clone()
		n.Snapshot.TimerRemaining = domain.Index(*t - 1)
		return n, nil
	}

	// error events and unknown types
	return s, nil
}

// applySessionState replaces the snapshot fields the server reported. Absent
// (null) players or questions keep what is already known.
func applySessionState(n State, snap domain.SessionSnapshot) State {
	if n.Snapshot.Code != "" && snap.Code != "" && snap.Code != n.Snapshot.Code {
		n = NewState(snap.Code)
	}
	prevIndex := n.startedIndex
	wasRevealed := n.Snapshot.Status == domain.StatusRevealed

	reveal := snap.RevealResults
	snap.RevealResults = nil
	if snap.Code == "" {
		snap.Code = n.Snapshot.Code
	}
	if snap.Status == "" || wasRevealed {
		snap.Status = n.Snapshot.Status
	}
	if snap.Players == nil {
		snap.Players = n.Snapshot.Players
	} else {
		players := make([]domain.Player, len(snap.Players))
		for i, p := range snap.Players {
			players[i] = clonePlayer(p)
		}
		snap.Players = players
	}
	switch {
	case snap.Questions == nil:
		snap.Questions = n.Snapshot.Questions
	case len(snap.Questions) < len(n.Snapshot.Questions) && snap.Status != domain.StatusLobby:
		// questions only grow during play
		snap.Questions = append(append([]domain.Question(nil), snap.Questions...), n.Snapshot.Questions[len(snap.Questions):]...)
	default:
		snap.Questions = append([]domain.Question(nil), snap.Questions...)
	}
	n.Snapshot = snap

	if snap.Status == domain.StatusPlaying && snap.CurrentQuestionIndex != prevIndex {
		n.resetQuestion(snap.CurrentQuestionIndex)
		n.Snapshot.TimerRemaining = snap.TimerRemaining
	}
	n.Answered = map[string]bool{}
	for _, p := range snap.Players {
		if _, ok := p.Answers[snap.CurrentQuestionIndex]; ok {
			n.Answered[p.ID] = true
		}
	}
	if reveal != nil {
		n.applyReveal(*reveal)
	}
	n.applyOverlays()
	return n
}

func applyQuestionStarted(s State, idx int) State {
	if s.Snapshot.Status == domain.StatusRevealed || idx < 0 {
		return s
	}
	if idx < s.Snapshot.CurrentQuestionIndex {
		return s
	}
	if idx == s.startedIndex && s.Snapshot.Status == domain.StatusPlaying {
		return s
	}
	n := s.clone()
	n.Snapshot.Status = domain.StatusPlaying
	n.Snapshot.CurrentQuestionIndex = idx
	n.resetQuestion(idx)
	return n
}

// resetQuestion clears everything scoped to one question. Runs once per index.
func (n *State) resetQuestion(idx int) {
	n.startedIndex = idx
	options := 0
	if idx < len(n.Snapshot.Questions) {
		options = len(n.Snapshot.Questions[idx].Options)
	}
	n.Stats = &domain.QuestionStats{
		QuestionIndex: idx,
		TotalPlayers:  len(n.Snapshot.Players),
		Distribution:  make([]int, options),
	}
	n.Answered = map[string]bool{}
	n.SelectedAnswer = nil
	n.ChallengeFlagged = false
	if n.Snapshot.Settings.TimerMode {
		n.Snapshot.TimerRemaining = domain.Index(n.Snapshot.Settings.TimerSeconds)
	} else {
		n.Snapshot.TimerRemaining = nil
	}
}

func (n *State) upsertPlayer(p domain.Player) {
	p = clonePlayer(p)
	if p.Answers == nil {
		p.Answers = map[int]int{}
	}
	if i := n.playerIndex(p.ID); i >= 0 {
		n.Snapshot.Players[i] = p
		return
	}
	n.Snapshot.Players = append(n.Snapshot.Players, p)
}

func (n *State) applyReveal(results domain.RevealResults) {
	n.Snapshot.Status = domain.StatusRevealed
	n.Snapshot.TimerRemaining = nil
	r := domain.RevealResults{
		Players:   append([]domain.PlayerResult(nil), results.Players...),
		Questions: append([]domain.QuestionResult(nil), results.Questions...),
	}
	n.Reveal = &r

	for _, pr := range r.Players {
		if i := n.playerIndex(pr.ID); i >= 0 {
			n.Snapshot.Players[i].Score = pr.Score
		}
	}
	for i, qr := range r.Questions {
		if i < len(n.Snapshot.Questions) {
			n.Snapshot.Questions[i].Correct = qr.Correct
		}
	}
	if len(n.Leaderboard) > 0 {
		byID := make(map[string]domain.PlayerResult, len(r.Players))
		for _, pr := range r.Players {
			byID[pr.ID] = pr
		}
		for i, e := range n.Leaderboard {
			if pr, ok := byID[e.ID]; ok {
				n.Leaderboard[i].Score = pr.Score
				n.Leaderboard[i].Rank = pr.Rank
			}
		}
		sort.SliceStable(n.Leaderboard, func(i, j int) bool { return n.Leaderboard[i].Rank < n.Leaderboard[j].Rank })
	}
	n.reapplyReconciliations(-1)
	n.applyOverlays()
}

// applyLeaderboard replaces the leaderboard and carries score/rank onto players
// and reveal results so both views agree.
func (n *State) applyLeaderboard(entries []domain.LeaderboardEntry) {
	n.Leaderboard = append([]domain.LeaderboardEntry(nil), entries...)
	byID := make(map[string]domain.LeaderboardEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
		if i := n.playerIndex(e.ID); i >= 0 {
			n.Snapshot.Players[i].Score = e.Score
		}
	}
	if n.Reveal == nil {
		return
	}
	for i, pr := range n.Reveal.Players {
		if e, ok := byID[pr.ID]; ok {
			n.Reveal.Players[i].Score = e.Score
			n.Reveal.Players[i].Rank = e.Rank
		}
	}
	sort.SliceStable(n.Reveal.Players, func(i, j int) bool { return n.Reveal.Players[i].Rank < n.Reveal.Players[j].Rank })
}

func (s State) withOverlay(idx *int, mutate func(*overlay)) State {
	if idx == nil || *idx < 0 {
		return s
	}
	n := s.clone()
	o := n.overlays[*idx]
	mutate(&o)
	n.overlays[*idx] = o
	n.applyOverlays()
	return n
}

// applyOverlays copies buffered dispute records onto result records that
// exist. Records for indexes outside the loaded questions stay buffered.
func (n *State) applyOverlays() {
	indexes := make([]int, 0, len(n.overlays))
	for idx := range n.overlays {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		if idx >= len(n.Snapshot.Questions) {
			continue
		}
		o := n.overlays[idx]
		if o.Reconciliation != nil && !o.reconciliationApplied {
			n.applyScores(o.Reconciliation.Scores)
			n.reconcileSeq++
			o.reconciliationApplied = true
			o.reconciledSeq = n.reconcileSeq
			n.overlays[idx] = o
		}
		if n.Reveal == nil || idx >= len(n.Reveal.Questions) {
			continue
		}
		qr := &n.Reveal.Questions[idx]
		if o.Challenge != nil {
			qr.Challenge = o.Challenge
		}
		if o.Resolution != nil {
			qr.Resolution = o.Resolution
		}
		if o.AIVerification != nil {
			qr.AIVerification = o.AIVerification
		}
		if o.Reconciliation != nil {
			qr.Reconciliation = o.Reconciliation
		}
	}
}

// reapplyReconciliations restores reconciled scores for questions at or after
// from, in the order they were first applied. A reconciliation outranks any
// leaderboard or reveal computed at or before its question.
func (n *State) reapplyReconciliations(from int) {
	var applied []overlay
	for idx, o := range n.overlays {
		if idx >= from && o.Reconciliation != nil && o.reconciliationApplied {
			applied = append(applied, o)
		}
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i].reconciledSeq < applied[j].reconciledSeq })
	for _, o := range applied {
		n.applyScores(o.Reconciliation.Scores)
	}
}

// applyScores sets absolute scores after a reconciliation and re-ranks.
func (n *State) applyScores(scores map[string]int) {
	if len(scores) == 0 {
		return
	}
	for id, score := range scores {
		if i := n.playerIndex(id); i >= 0 {
			n.Snapshot.Players[i].Score = score
		}
	}
	if n.Reveal != nil {
		for i, pr := range n.Reveal.Players {
			if score, ok := scores[pr.ID]; ok {
				n.Reveal.Players[i].Score = score
			}
		}
		n.Reveal.Players = RankResults(n.Reveal.Players)
	}
	if len(n.Leaderboard) > 0 {
		standings := make([]Standing, len(n.Leaderboard))
		for i, e := range n.Leaderboard {
			score := e.Score
			if s, ok := scores[e.ID]; ok {
				score = s
			}
			var total float64
			if p, ok := n.Player(e.ID); ok {
				total = p.TotalTime()
			}
			standings[i] = Standing{ID: e.ID, Nickname: e.Nickname, Score: score, TotalTime: total, CorrectAnswers: e.CorrectAnswers, TotalAnswers: e.TotalAnswers}
		}
		n.Leaderboard = Rank(standings)
	}
}

func applyQuestionsUpdated(s State, p domain.QuestionsUpdatedPayload) State {
	current := len(s.Snapshot.Questions)
	start := 0
	if p.StartIndex != nil {
		start = *p.StartIndex
	}
	if start > current {
		// a gap; the next session_state fills it
		return s
	}
	fresh := p.Questions[min(current-start, len(p.Questions)):]
	if len(fresh) == 0 && (p.TargetCount == 0 || p.TargetCount == s.TargetCount) {
		return s
	}
	n := s.clone()
	n.Snapshot.Questions = append(n.Snapshot.Questions, fresh...)
	if p.TargetCount > 0 {
		n.TargetCount = p.TargetCount
	}
	if n.Stats != nil && n.Stats.QuestionIndex < len(n.Snapshot.Questions) && len(n.Stats.Distribution) == 0 {
		n.Stats.Distribution = make([]int, len(n.Snapshot.Questions[n.Stats.QuestionIndex].Options))
	}
	n.applyOverlays()
	return n
}

func sameReconciliation(a, b domain.ScoreReconciliation) bool {
	if a.Policy != b.Policy || len(a.AcceptedAnswers) != len(b.AcceptedAnswers) || len(a.Scores) != len(b.Scores) {
		return false
	}
	for i := range a.AcceptedAnswers {
		if a.AcceptedAnswers[i] != b.AcceptedAnswers[i] {
			return false
		}
	}
	for id, v := range a.Scores {
		if b.Scores[id] != v {
			return false
		}
	}
	return true
}
