package app_test

import (
	"testing"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
)

func TestRankOrdersByScoreThenTime(t *testing.T) {
	entries := app.Rank([]app.Standing{
		{ID: "A", Score: 3, TotalTime: 10},
		{ID: "B", Score: 5, TotalTime: 12},
		{ID: "C", Score: 5, TotalTime: 8},
	})

	want := []string{"C", "B", "A"}
	for i, id := range want {
		if entries[i].ID != id || entries[i].Rank != i+1 {
			t.Fatalf("position %d: expected %s rank %d, got %+v", i, id, i+1, entries[i])
		}
	}
}

func TestRankIsStableForEqualPairs(t *testing.T) {
	input := []app.Standing{
		{ID: "x", Score: 2, TotalTime: 4},
		{ID: "y", Score: 2, TotalTime: 4},
		{ID: "z", Score: 2, TotalTime: 4},
	}
	first := app.Rank(input)
	for i, id := range []string{"x", "y", "z"} {
		if first[i].ID != id {
			t.Fatalf("expected insertion order, got %+v", first)
		}
	}

	again := make([]app.Standing, len(first))
	for i, e := range first {
		again[i] = app.Standing{ID: e.ID, Score: e.Score, TotalTime: 4}
	}
	second := app.Rank(again)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("re-rank changed order: %+v vs %+v", first, second)
		}
	}
	if input[0].ID != "x" {
		t.Fatalf("input was modified")
	}
}

func TestRankResultsUsesSameComparator(t *testing.T) {
	results := app.RankResults([]domain.PlayerResult{
		{ID: "A", Score: 3, TotalTime: 10, Rank: 1},
		{ID: "B", Score: 5, TotalTime: 12, Rank: 2},
		{ID: "C", Score: 5, TotalTime: 8, Rank: 3},
	})
	for i, id := range []string{"C", "B", "A"} {
		if results[i].ID != id || results[i].Rank != i+1 {
			t.Fatalf("position %d: expected %s, got %+v", i, id, results[i])
		}
	}
}

func TestStandingsFromPlayersCountsRevealedAnswersOnly(t *testing.T) {
	questions := []domain.Question{{Correct: 1}, {Correct: -1}}
	players := []domain.Player{{
		ID:          "p1",
		Score:       1,
		Answers:     map[int]int{0: 1, 1: 1},
		AnswerTimes: map[int]float64{0: 2.5, 1: 1.5},
	}}

	standings := app.StandingsFromPlayers(players, questions)
	if standings[0].CorrectAnswers != 1 || standings[0].TotalAnswers != 2 {
		t.Fatalf("unexpected counts %+v", standings[0])
	}
	if standings[0].TotalTime != 4 {
		t.Fatalf("expected total time 4, got %v", standings[0].TotalTime)
	}
}
