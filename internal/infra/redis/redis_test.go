package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
	"pulsequiz-sync/internal/infra/memory"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPreferenceStoreRoundTrip(t *testing.T) {
	mr, client := newClient(t)
	store := NewPreferenceStore(client, "", time.Hour)
	ctx := context.Background()

	if _, err := store.Get(ctx, app.PrefPlayerID); !errors.Is(err, domain.ErrPreferenceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Set(ctx, app.PrefPlayerID, "p-1", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("pulsequiz:pref:player_id") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("pulsequiz:pref:player_id"); ttl != time.Hour {
		t.Fatalf("expected default ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, app.PrefPlayerID); !errors.Is(err, domain.ErrPreferenceNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}

	_ = store.Set(ctx, app.PrefHostToken, "secret", time.Minute)
	if err := store.Delete(ctx, app.PrefHostToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("pulsequiz:pref:host_token") {
		t.Fatalf("expected redis key to be removed")
	}
}

type countingLoader struct {
	app.QuestionSetLoader
	calls int
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, id string) ([]domain.Question, error) {
	l.calls++
	return l.QuestionSetLoader.LoadQuestionSet(ctx, id)
}

func TestQuestionSetCacheCachesInRedis(t *testing.T) {
	mr, client := newClient(t)
	loader := &countingLoader{QuestionSetLoader: memory.StaticQuestionSets{
		"basics": {{Question: "What is 2 + 2?", Options: []string{"3", "4"}, Correct: 1, Points: 1}},
	}}
	cache := NewQuestionSetCache(client, loader, time.Minute)

	qs, err := cache.LoadQuestionSet(context.Background(), "basics")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(qs) != 1 || loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("pulsequiz:questions:basics") {
		t.Fatalf("expected cached set in redis")
	}

	qs, _ = cache.LoadQuestionSet(context.Background(), "basics")
	if loader.calls != 1 || qs[0].Options[1] != "4" {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}

	if _, err := cache.LoadQuestionSet(context.Background(), "nope"); !errors.Is(err, domain.ErrQuestionSetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
