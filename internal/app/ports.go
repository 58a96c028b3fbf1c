package app

import (
	"context"
	"time"

	"pulsequiz-sync/internal/domain"
)

// PreferenceStore persists small client preferences such as tokens and the
// last joined session.
type PreferenceStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// QuestionSetLoader fetches a stored question set by id.
type QuestionSetLoader interface {
	LoadQuestionSet(ctx context.Context, id string) ([]domain.Question, error)
}

const (
	PrefLastSession  = "last_session"
	PrefLastRole     = "last_role"
	PrefHostToken    = "host_token"
	PrefPlayerID     = "player_id"
	PrefObserverID   = "observer_id"
	PrefLastNickname = "nickname"
)

// SessionPref scopes a preference key to one session.
func SessionPref(code, key string) string {
	return "session:" + code + ":" + key
}
