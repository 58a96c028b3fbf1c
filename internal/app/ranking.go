package app

import (
	"sort"

	"pulsequiz-sync/internal/domain"
)

// Standing is the input to ranking: one player's score and cumulative answer time.
type Standing struct {
	ID             string
	Nickname       string
	Score          int
	TotalTime      float64
	CorrectAnswers int
	TotalAnswers   int
}

// rankBefore orders by score desc, then total answer time asc. Equal pairs
// compare false so a stable sort keeps insertion order.
func rankBefore(scoreA int, timeA float64, scoreB int, timeB float64) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	return timeA < timeB
}

// Rank orders standings and assigns 1-based ranks. The input is not modified.
func Rank(standings []Standing) []domain.LeaderboardEntry {
	sorted := make([]Standing, len(standings))
	copy(sorted, standings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rankBefore(sorted[i].Score, sorted[i].TotalTime, sorted[j].Score, sorted[j].TotalTime)
	})

	entries := make([]domain.LeaderboardEntry, len(sorted))
	for i, s := range sorted {
		entries[i] = domain.LeaderboardEntry{
			ID:             s.ID,
			Nickname:       s.Nickname,
			Score:          s.Score,
			Rank:           i + 1,
			CorrectAnswers: s.CorrectAnswers,
			TotalAnswers:   s.TotalAnswers,
		}
	}
	return entries
}

// RankResults re-ranks final results with the same comparator as the live leaderboard.
func RankResults(results []domain.PlayerResult) []domain.PlayerResult {
	sorted := make([]domain.PlayerResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rankBefore(sorted[i].Score, sorted[i].TotalTime, sorted[j].Score, sorted[j].TotalTime)
	})
	for i := range sorted {
		sorted[i].Rank = i + 1
	}
	return sorted
}

// StandingsFromPlayers derives standings from the players known locally.
// Correct answers are only counted for questions whose answer has been revealed.
func StandingsFromPlayers(players []domain.Player, questions []domain.Question) []Standing {
	standings := make([]Standing, 0, len(players))
	for _, p := range players {
		correct := 0
		for qIdx, choice := range p.Answers {
			if qIdx >= 0 && qIdx < len(questions) && questions[qIdx].Correct >= 0 && questions[qIdx].Correct == choice {
				correct++
			}
		}
		standings = append(standings, Standing{
			ID:             p.ID,
			Nickname:       p.Nickname,
			Score:          p.Score,
			TotalTime:      p.TotalTime(),
			CorrectAnswers: correct,
			TotalAnswers:   len(p.Answers),
		})
	}
	return standings
}
