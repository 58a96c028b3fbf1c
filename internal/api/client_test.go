package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
)

func TestFetchStateSendsHostToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/session/ABC123/state" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Host-Token") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"detail":"Invalid host token"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(domain.SessionSnapshot{Code: "ABC123", Status: domain.StatusPlaying, CurrentQuestionIndex: 2})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	snap, err := client.FetchState(context.Background(), "ABC123", domain.HostIdentity("secret"))
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	if snap.Status != domain.StatusPlaying || snap.CurrentQuestionIndex != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	_, err = client.FetchState(context.Background(), "ABC123", domain.HostIdentity("wrong"))
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden || se.Detail != "Invalid host token" {
		t.Fatalf("expected 403 status error, got %v", err)
	}
}

func TestFetchEventsUsesCursorAndPlayerID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("since_id") != "7" || q.Get("player_id") != "p1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"events":[{"type":"timer_tick","remaining":3,"_eventId":8}],"lastEventId":8}`))
	}))
	defer server.Close()

	page, err := NewClient(server.URL, time.Second).FetchEvents(context.Background(), "ABC123", domain.PlayerIdentity("p1"), 7)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if page.LastEventID != 8 || len(page.Events) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestHostActionsRequireToken(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/api/session/ABC123/questions/append" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Questions []domain.Question `json:"questions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(Ack{OK: true, Count: len(body.Questions)})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.AppendQuestions(context.Background(), "ABC123", "", nil); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	sink := HostSink{Client: client, Code: "ABC123", HostToken: "secret"}
	if err := sink.AppendQuestions(context.Background(), []domain.Question{{Question: "q"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly one request, got %d", hits)
	}
}

func TestJoinReturnsPlayerID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["nickname"] != "Ann" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"playerId":"p-42"}`))
	}))
	defer server.Close()

	id, err := NewClient(server.URL, time.Second).Join(context.Background(), "ABC123", "Ann")
	if err != nil || id != "p-42" {
		t.Fatalf("expected p-42, got %q (%v)", id, err)
	}
}

func TestGeneratorPostsPerformance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req app.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Count != 3 || req.Performance.AccuracyPercent != 60 {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"questions":[{"question":"a","options":["x","y"],"correct":0}],"difficulty":"easy"}`))
	}))
	defer server.Close()

	batch, err := NewGenerator(server.URL, time.Second).Generate(context.Background(), app.GenerateRequest{
		Count:       3,
		Performance: app.Calibrate(nil, 10),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if batch.Difficulty != "easy" || len(batch.Questions) != 1 {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestStatusErrorMapsSentinels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Host-Token") != "good" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"detail":"Invalid host token"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"No more questions"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	if _, err := c.Next(context.Background(), "ABC123", "bad"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	_, err := c.Next(context.Background(), "ABC123", "good")
	if !errors.Is(err, domain.ErrNoMoreQuestions) {
		t.Fatalf("expected ErrNoMoreQuestions, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected StatusError, got %v", err)
	}
}
