package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/domain"
)

// View is the derived, read-only picture of a session pushed to subscribers.
type View struct {
	Code                 string                    `json:"code"`
	Status               domain.SessionStatus      `json:"status"`
	Mode                 string                    `json:"mode,omitempty"`
	CurrentQuestionIndex int                       `json:"currentQuestionIndex"`
	Question             *domain.Question          `json:"question,omitempty"`
	QuestionCount        int                       `json:"questionCount"`
	TargetCount          int                       `json:"targetCount,omitempty"`
	TimerRemaining       *int                      `json:"timerRemaining"`
	Players              []domain.Player           `json:"players"`
	Leaderboard          []domain.LeaderboardEntry `json:"leaderboard"`
	AnswerStatus         domain.AnswerStatus       `json:"answerStatus"`
	Stats                *domain.QuestionStats     `json:"stats,omitempty"`
	Reveal               *domain.RevealResults     `json:"reveal,omitempty"`
	SelectedAnswer       *int                      `json:"selectedAnswer,omitempty"`
	ChallengeFlagged     bool                      `json:"challengeFlagged,omitempty"`
	UpdatedAt            time.Time                 `json:"updatedAt"`
}

// Session owns the reducer state for one connection. Events are applied one at
// a time under its lock and every change is broadcast to subscribers.
type Session struct {
	clock   clockwork.Clock
	journal EventJournal

	mu          sync.RWMutex
	state       State
	mode        string
	subscribers map[chan View]struct{}
	onError     func(*domain.ServerError)
}

func NewSession(code string, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		clock:       clock,
		state:       NewState(code),
		subscribers: make(map[chan View]struct{}),
	}
}

// WithJournal records every applied event. Must be called before Apply.
func (s *Session) WithJournal(j EventJournal) *Session {
	s.journal = j
	return s
}

// OnServerError registers the handler for `error` events.
func (s *Session) OnServerError(fn func(*domain.ServerError)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Apply reduces one event into the session state. Malformed events are logged
// and dropped.
func (s *Session) Apply(evt domain.Event) State {
	if se, ok := domain.ServerErrorFrom(evt); ok {
		log.Warn().Str("code", s.Code()).Str("message", se.Message).Msg("server error event")
		s.mu.RLock()
		fn := s.onError
		s.mu.RUnlock()
		if fn != nil {
			fn(se)
		}
	}

	s.mu.Lock()
	next, err := Reduce(s.state, evt)
	if err != nil {
		code := s.state.Snapshot.Code
		s.mu.Unlock()
		log.Warn().Err(err).Str("code", code).Str("type", string(evt.Type)).Msg("dropping malformed event")
		return next
	}
	s.state = next
	s.broadcastLocked()
	code := s.state.Snapshot.Code
	s.mu.Unlock()

	if s.journal != nil && !evt.IsLocal() {
		if err := s.journal.Record(context.Background(), code, evt); err != nil && !errors.Is(err, ErrJournalFull) {
			log.Warn().Err(err).Str("code", code).Msg("journal record failed")
		}
	}
	return next
}

// SetMode records the transport mode shown in the view.
func (s *Session) SetMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == mode {
		return
	}
	s.mode = mode
	s.broadcastLocked()
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *Session) Code() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Snapshot.Code
}

func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// Subscribe returns a channel that receives the current view followed by every
// change. The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	// The channel is empty, so this cannot block, and later broadcasts queue behind it.
	ch <- s.viewLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	v := s.viewLocked()
	for ch := range s.subscribers {
		select {
		case ch <- v:
		default:
			// Slow reader: drop its oldest view so the newest always lands.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (s *Session) viewLocked() View {
	st := s.state
	v := View{
		Code:                 st.Snapshot.Code,
		Status:               st.Snapshot.Status,
		Mode:                 s.mode,
		CurrentQuestionIndex: st.Snapshot.CurrentQuestionIndex,
		QuestionCount:        len(st.Snapshot.Questions),
		TargetCount:          st.TargetCount,
		Leaderboard:          st.Standings(),
		AnswerStatus:         st.AnswerStatus(),
		ChallengeFlagged:     st.ChallengeFlagged,
		UpdatedAt:            s.clock.Now(),
	}
	if q, ok := st.CurrentQuestion(); ok {
		v.Question = &q
	}
	c := st.clone()
	v.Players = c.Snapshot.Players
	v.TimerRemaining = c.Snapshot.TimerRemaining
	v.Stats = c.Stats
	v.Reveal = c.Reveal
	v.SelectedAnswer = c.SelectedAnswer
	return v
}

// RunCountdown decrements the displayed timer once per second between server
// ticks until ctx is done.
func (s *Session) RunCountdown(ctx context.Context) {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			st := s.State()
			if st.Snapshot.Status != domain.StatusPlaying || st.Snapshot.TimerRemaining == nil || *st.Snapshot.TimerRemaining <= 0 {
				continue
			}
			s.Apply(domain.MustEvent(domain.EventLocalTimerDecrement, domain.TimerDecrementPayload{
				QuestionIndex: st.Snapshot.CurrentQuestionIndex,
			}))
		}
	}
}
