package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"pulsequiz-sync/internal/api"
	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/client"
	"pulsequiz-sync/internal/domain"
)

func TestResolveServerPrecedence(t *testing.T) {
	if got := resolveServer("http://flag", "http://env", "http://cfg"); got != "http://flag" {
		t.Fatalf("flag should win, got %s", got)
	}
	if got := resolveServer("", "http://env", "http://cfg"); got != "http://env" {
		t.Fatalf("env should beat config, got %s", got)
	}
	if got := resolveServer("", "", ""); got != "http://localhost:8000" {
		t.Fatalf("unexpected default %s", got)
	}
}

func TestNDJSONJournalWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	j := newNDJSONJournal(&buf)
	ctx := context.Background()
	_ = j.Record(ctx, "ABC123", domain.MustEvent(domain.EventPlayerLeft, domain.PlayerLeftPayload{PlayerID: "p1"}))
	_ = j.Record(ctx, "ABC123", domain.MustEvent(domain.EventTimerTick, domain.TimerTickPayload{Remaining: 4}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", buf.String())
	}
	var first struct {
		Code  string         `json:"code"`
		Type  string         `json:"type"`
		Event map[string]any `json:"event"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Code != "ABC123" || first.Type != "player_left" || first.Event["playerId"] != "p1" {
		t.Fatalf("unexpected line %+v", first)
	}
}

func TestSummarizeReplaysJournal(t *testing.T) {
	entries := []app.JournalEntry{
		{Seq: 1, Code: "ABC123", Event: domain.MustEvent(domain.EventSessionState, domain.SessionStatePayload{State: domain.SessionSnapshot{
			Code:      "ABC123",
			Status:    domain.StatusPlaying,
			Questions: []domain.Question{{Question: "q", Options: []string{"a", "b"}, Correct: -1}},
			Players:   []domain.Player{{ID: "p1", Nickname: "Ada", Score: 2}, {ID: "p2", Nickname: "Ben", Score: 5}},
		}})},
		{Seq: 2, Code: "ABC123", Event: domain.Event{Type: domain.EventPlayerJoined, Data: []byte(`{"type":"player_joined"`)}},
	}
	sum := summarize("ABC123", entries)
	if sum.Events != 2 || sum.Status != domain.StatusPlaying || sum.QuestionCount != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(sum.Leaderboard) != 2 || sum.Leaderboard[0].ID != "p2" {
		t.Fatalf("unexpected leaderboard %+v", sum.Leaderboard)
	}
}

func TestHostConsoleReportsFailures(t *testing.T) {
	qc := client.New(api.NewClient("http://127.0.0.1:1", time.Second), client.Options{})
	var out bytes.Buffer
	in := strings.NewReader("start\nstatus\nwhat\nquit\nnext\n")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := hostConsole(ctx, qc, in, &out); err != nil {
		t.Fatalf("console: %v", err)
	}
	got := out.String()
	for _, want := range []string{"start failed: not connected", "status failed", `unknown command "what"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("output %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "next failed") {
		t.Fatalf("commands after quit must not run: %q", got)
	}
}
