package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
)

// QuestionSetCache caches question sets with a TTL to avoid repeated loads.
type QuestionSetCache struct {
	loader app.QuestionSetLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionSetCache(loader app.QuestionSetLoader, ttl time.Duration, clock clockwork.Clock) *QuestionSetCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QuestionSetCache{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
	}
}

func (r *QuestionSetCache) LoadQuestionSet(ctx context.Context, id string) ([]domain.Question, error) {
	if qs, ok := r.lookup(id); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		if qs, ok := r.lookup(id); ok {
			return qs, nil
		}
		qs, err := r.loader.LoadQuestionSet(ctx, id)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[id] = cachedSet{
			questions: qs,
			expiresAt: r.clock.Now().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

func (r *QuestionSetCache) lookup(id string) ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[id]
	if !ok || !entry.expiresAt.After(r.clock.Now()) {
		return nil, false
	}
	return append([]domain.Question(nil), entry.questions...), true
}

func (r *QuestionSetCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionSets is a loader backed by a map, for tests and demos.
type StaticQuestionSets map[string][]domain.Question

func (s StaticQuestionSets) LoadQuestionSet(_ context.Context, id string) ([]domain.Question, error) {
	qs, ok := s[id]
	if !ok {
		return nil, domain.ErrQuestionSetNotFound
	}
	return append([]domain.Question(nil), qs...), nil
}
