package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
)

// QuestionSetCache caches question sets in Redis and falls back to a loader
// on a miss. Sets are stored as JSON: SET pulsequiz:questions:{id} <json>
type QuestionSetCache struct {
	client *redis.Client
	loader app.QuestionSetLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionSetCache(client *redis.Client, loader app.QuestionSetLoader, ttl time.Duration) *QuestionSetCache {
	return &QuestionSetCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionSetCache) LoadQuestionSet(ctx context.Context, id string) ([]domain.Question, error) {
	if qs, ok := r.cached(ctx, id); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		// Re-check in case another caller filled it.
		if qs, ok := r.cached(ctx, id); ok {
			return qs, nil
		}
		qs, err := r.loader.LoadQuestionSet(ctx, id)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(qs)
		if err == nil {
			err = r.client.Set(ctx, r.key(id), raw, r.ttlWithJitter()).Err()
		}
		if err != nil {
			log.Warn().Err(err).Str("set", id).Msg("question set cache write failed")
		}
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionSetCache) cached(ctx context.Context, id string) ([]domain.Question, bool) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var qs []domain.Question
	if err := json.Unmarshal(raw, &qs); err != nil || len(qs) == 0 {
		return nil, false
	}
	return qs, true
}

func (r *QuestionSetCache) key(id string) string {
	return "pulsequiz:questions:" + id
}

func (r *QuestionSetCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
