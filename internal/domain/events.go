package domain

import (
	"encoding/json"
	"fmt"
)

// EventType is the `type` discriminator carried by every wire frame.
type EventType string

const (
	EventSessionState         EventType = "session_state"
	EventPlayerJoined         EventType = "player_joined"
	EventPlayerLeft           EventType = "player_left"
	EventQuestionStarted      EventType = "question_started"
	EventAnswerReceived       EventType = "answer_received"
	EventRevealed             EventType = "revealed"
	EventTimerTick            EventType = "timer_tick"
	EventLeaderboardUpdate    EventType = "leaderboard_update"
	EventQuestionStats        EventType = "question_stats"
	EventChallengeUpdated     EventType = "challenge_updated"
	EventChallengeResolution  EventType = "challenge_resolution"
	EventChallengeAIVerified  EventType = "challenge_ai_verified"
	EventChallengeAIPublished EventType = "challenge_ai_published"
	EventScoresReconciled     EventType = "scores_reconciled"
	EventQuestionsUpdated     EventType = "questions_updated"
	EventError                EventType = "error"

	// Client-local events. They never travel over the wire.
	EventLocalAnswerSelected   EventType = "local_answer_selected"
	EventLocalChallengeFlagged EventType = "local_challenge_flagged"
	EventLocalTimerDecrement   EventType = "local_timer_decrement"
)

// Event is a normalized frame. Data holds the complete JSON object, type included.
type Event struct {
	Type EventType
	Data json.RawMessage
}

// DecodeEvent reads the discriminator of a raw frame.
func DecodeEvent(frame []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	if head.Type == "" {
		return Event{}, fmt.Errorf("decode frame: missing type")
	}
	data := make(json.RawMessage, len(frame))
	copy(data, frame)
	return Event{Type: head.Type, Data: data}, nil
}

// NewEvent builds an event from a payload struct, adding the type field.
func NewEvent(t EventType, payload any) (Event, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Event{}, fmt.Errorf("payload must be an object: %w", err)
		}
	}
	typ, _ := json.Marshal(t)
	fields["type"] = typ
	data, err := json.Marshal(fields)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Data: data}, nil
}

// MustEvent is NewEvent for payloads known to marshal.
func MustEvent(t EventType, payload any) Event {
	evt, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// Decode unmarshals the frame into a payload struct.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// MarshalJSON emits the frame unchanged.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Data) == 0 {
		return json.Marshal(map[string]EventType{"type": e.Type})
	}
	return e.Data, nil
}

// IsLocal reports whether the event originated on this client.
func (e Event) IsLocal() bool {
	switch e.Type {
	case EventLocalAnswerSelected, EventLocalChallengeFlagged, EventLocalTimerDecrement:
		return true
	}
	return false
}

// ServerErrorFrom extracts the message of an `error` event.
func ServerErrorFrom(e Event) (*ServerError, bool) {
	if e.Type != EventError {
		return nil, false
	}
	var p ErrorPayload
	if err := e.Decode(&p); err != nil {
		return &ServerError{Message: string(e.Data)}, true
	}
	return &ServerError{Message: p.Message}, true
}

type SessionStatePayload struct {
	State SessionSnapshot `json:"state"`
}

type PlayerJoinedPayload struct {
	Player Player `json:"player"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
}

type QuestionStartedPayload struct {
	QuestionIndex *int `json:"questionIndex"`
}

type AnswerReceivedPayload struct {
	PlayerID      string `json:"playerId"`
	QuestionIndex *int   `json:"questionIndex"`
}

type RevealedPayload struct {
	Results RevealResults `json:"results"`
}

type TimerTickPayload struct {
	QuestionIndex *int `json:"questionIndex,omitempty"`
	Remaining     int  `json:"remaining"`
}

type LeaderboardUpdatePayload struct {
	QuestionIndex *int               `json:"questionIndex,omitempty"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
}

type QuestionStatsPayload struct {
	Stats QuestionStats `json:"stats"`
}

type ChallengeUpdatedPayload struct {
	QuestionIndex *int      `json:"questionIndex"`
	Challenge     Challenge `json:"challenge"`
}

type ChallengeResolutionPayload struct {
	QuestionIndex *int                `json:"questionIndex"`
	Resolution    ChallengeResolution `json:"resolution"`
}

// ChallengeAIPayload is shared by challenge_ai_verified and challenge_ai_published.
type ChallengeAIPayload struct {
	QuestionIndex *int           `json:"questionIndex"`
	Verification  AIVerification `json:"verification"`
}

type ScoresReconciledPayload struct {
	QuestionIndex *int `json:"questionIndex"`
	ScoreReconciliation
}

// QuestionsUpdatedPayload carries the full question list, or only the appended
// tail when StartIndex is set.
type QuestionsUpdatedPayload struct {
	Questions   []Question `json:"questions"`
	StartIndex  *int       `json:"startIndex,omitempty"`
	TargetCount int        `json:"targetCount,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type AnswerSelectedPayload struct {
	QuestionIndex int `json:"questionIndex"`
	Choice        int `json:"choice"`
}

type ChallengeFlaggedPayload struct {
	QuestionIndex int `json:"questionIndex"`
}

type TimerDecrementPayload struct {
	QuestionIndex int `json:"questionIndex"`
}

// Index returns a pointer to i, for payload literals.
func Index(i int) *int {
	return &i
}
