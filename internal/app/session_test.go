package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
)

type fakeJournal struct {
	mu    sync.Mutex
	types []domain.EventType
}

func (j *fakeJournal) Record(_ context.Context, _ string, evt domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.types = append(j.types, evt.Type)
	return nil
}

func (j *fakeJournal) recorded() []domain.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.EventType(nil), j.types...)
}

func TestSessionSubscribeReceivesUpdates(t *testing.T) {
	session := app.NewSession("ABC123", clockwork.NewFakeClock())
	ch, cancel := session.Subscribe()
	defer cancel()

	initial := <-ch
	if initial.Code != "ABC123" || initial.Status != domain.StatusLobby {
		t.Fatalf("unexpected initial view %+v", initial)
	}

	session.Apply(domain.MustEvent(domain.EventPlayerJoined, domain.PlayerJoinedPayload{Player: domain.Player{ID: "p1", Nickname: "Ann", Score: 2}}))

	update := <-ch
	if len(update.Players) != 1 || len(update.Leaderboard) != 1 || update.Leaderboard[0].Score != 2 {
		t.Fatalf("expected one ranked player, got %+v", update)
	}
}

func TestSessionSlowSubscriberGetsLatest(t *testing.T) {
	session := app.NewSession("ABC123", clockwork.NewFakeClock())
	ch, cancel := session.Subscribe()
	defer cancel()

	for i := 0; i < 20; i++ {
		session.Apply(domain.MustEvent(domain.EventPlayerJoined, domain.PlayerJoinedPayload{Player: domain.Player{ID: "p1", Score: i}}))
	}

	var last app.View
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Players[0].Score != 19 {
		t.Fatalf("expected newest view to survive, got score %d", last.Players[0].Score)
	}
}

func TestSessionSubscribeDuringBurstStaysOrdered(t *testing.T) {
	for round := 0; round < 20; round++ {
		session := app.NewSession("ABC123", clockwork.NewFakeClock())
		start := make(chan struct{})
		applied := make(chan struct{})
		go func() {
			defer close(applied)
			<-start
			for i := 0; i < 50; i++ {
				session.Apply(domain.MustEvent(domain.EventPlayerJoined, domain.PlayerJoinedPayload{Player: domain.Player{ID: "p1", Score: i}}))
			}
		}()

		var ch <-chan app.View
		var cancel func()
		subscribed := make(chan struct{})
		go func() {
			ch, cancel = session.Subscribe()
			close(subscribed)
		}()
		close(start)
		select {
		case <-subscribed:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: subscribe blocked behind a broadcast", round)
		}

		prev := -1
		for prev != 49 {
			select {
			case v := <-ch:
				if len(v.Players) == 0 {
					continue
				}
				if v.Players[0].Score < prev {
					t.Fatalf("round %d: view went backwards from %d to %d", round, prev, v.Players[0].Score)
				}
				prev = v.Players[0].Score
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: stuck at score %d", round, prev)
			}
		}
		<-applied
		cancel()
	}
}

func TestSessionSurfacesServerErrors(t *testing.T) {
	session := app.NewSession("ABC123", nil)
	var got *domain.ServerError
	session.OnServerError(func(se *domain.ServerError) { got = se })

	session.Apply(domain.MustEvent(domain.EventError, domain.ErrorPayload{Message: "Invalid host token"}))
	if got == nil || got.Message != "Invalid host token" {
		t.Fatalf("expected server error callback, got %+v", got)
	}
}

func TestSessionRecordsWireEventsOnly(t *testing.T) {
	journal := &fakeJournal{}
	session := app.NewSession("ABC123", nil).WithJournal(journal)

	session.Apply(domain.MustEvent(domain.EventPlayerJoined, domain.PlayerJoinedPayload{Player: domain.Player{ID: "p1"}}))
	session.Apply(domain.MustEvent(domain.EventLocalChallengeFlagged, domain.ChallengeFlaggedPayload{QuestionIndex: 0}))

	types := journal.recorded()
	if len(types) != 1 || types[0] != domain.EventPlayerJoined {
		t.Fatalf("expected only player_joined recorded, got %v", types)
	}
}

func TestJournalWriterFlushesOnClose(t *testing.T) {
	journal := &fakeJournal{}
	w := app.NewJournalWriter(journal, 4)
	for i := 0; i < 3; i++ {
		if err := w.Record(context.Background(), "ABC123", domain.MustEvent(domain.EventTimerTick, domain.TimerTickPayload{Remaining: i})); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	w.Close()
	w.Close()

	if got := len(journal.recorded()); got != 3 {
		t.Fatalf("expected 3 flushed events, got %d", got)
	}
	if err := w.Record(context.Background(), "ABC123", domain.MustEvent(domain.EventTimerTick, nil)); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestRunCountdownDecrementsTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	session := app.NewSession("ABC123", clock)
	session.Apply(domain.MustEvent(domain.EventSessionState, domain.SessionStatePayload{State: domain.SessionSnapshot{
		Code:      "ABC123",
		Status:    domain.StatusLobby,
		Questions: []domain.Question{{Options: []string{"a", "b"}, Correct: -1}},
		Settings:  domain.GameSettings{TimerMode: true, TimerSeconds: 2},
	}}))
	session.Apply(domain.MustEvent(domain.EventQuestionStarted, domain.QuestionStartedPayload{QuestionIndex: domain.Index(0)}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.RunCountdown(ctx)

	for i := 0; i < 3; i++ {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("block: %v", err)
		}
		clock.Advance(time.Second)
		waitFor(t, func() bool {
			r := session.State().Snapshot.TimerRemaining
			return r != nil && *r == max(1-i, 0)
		})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
