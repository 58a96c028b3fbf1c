package api

import (
	"context"
	"net/http"

	"pulsequiz-sync/internal/domain"
)

// Ack is the small acknowledgement most actions return. Effects arrive via the
// event stream.
type Ack struct {
	OK    bool `json:"ok"`
	Count int  `json:"count,omitempty"`
}

type CreateSessionRequest struct {
	RoundSize int                  `json:"roundSize,omitempty"`
	Settings  *domain.GameSettings `json:"settings,omitempty"`
}

type CreateSessionResponse struct {
	Code      string `json:"code"`
	HostToken string `json:"hostToken"`
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	var resp CreateSessionResponse
	err := c.do(ctx, http.MethodPost, "/api/session", nil, nil, req, &resp)
	return resp, err
}

// Join registers a player and returns its id.
func (c *Client) Join(ctx context.Context, code, nickname string) (string, error) {
	var resp struct {
		PlayerID string `json:"playerId"`
	}
	if err := c.do(ctx, http.MethodPost, sessionPath(code, "/join"), nil, nil, map[string]string{"nickname": nickname}, &resp); err != nil {
		return "", err
	}
	return resp.PlayerID, nil
}

func (c *Client) UploadQuestions(ctx context.Context, code, hostToken string, questions []domain.Question) (Ack, error) {
	return c.hostAction(ctx, code, "/questions", hostToken, map[string]any{"questions": questions})
}

// AppendQuestions adds questions to a running session.
func (c *Client) AppendQuestions(ctx context.Context, code, hostToken string, questions []domain.Question) (Ack, error) {
	return c.hostAction(ctx, code, "/questions/append", hostToken, map[string]any{"questions": questions})
}

func (c *Client) Start(ctx context.Context, code, hostToken string) (Ack, error) {
	return c.hostAction(ctx, code, "/start", hostToken, nil)
}

func (c *Client) Next(ctx context.Context, code, hostToken string) (Ack, error) {
	return c.hostAction(ctx, code, "/next", hostToken, nil)
}

func (c *Client) Reveal(ctx context.Context, code, hostToken string) (Ack, error) {
	return c.hostAction(ctx, code, "/reveal", hostToken, nil)
}

func (c *Client) SubmitAnswer(ctx context.Context, code, playerID string, questionIndex, choice int) (Ack, error) {
	var ack Ack
	err := c.do(ctx, http.MethodPost, sessionPath(code, "/answer"), nil, nil, map[string]any{
		"playerId":      playerID,
		"questionIndex": questionIndex,
		"choice":        choice,
	}, &ack)
	return ack, err
}

func (c *Client) SubmitChallenge(ctx context.Context, code, playerID string, questionIndex int, note string) (Ack, error) {
	var ack Ack
	err := c.do(ctx, http.MethodPost, sessionPath(code, "/challenge"), nil, nil, map[string]any{
		"playerId":      playerID,
		"questionIndex": questionIndex,
		"note":          note,
	}, &ack)
	return ack, err
}

type ResolveChallengeRequest struct {
	QuestionIndex int                    `json:"questionIndex"`
	Status        domain.ChallengeStatus `json:"status"`
	Verdict       *domain.Verdict        `json:"verdict,omitempty"`
	Note          string                 `json:"note,omitempty"`
	Publish       bool                   `json:"publish"`
}

func (c *Client) ResolveChallenge(ctx context.Context, code, hostToken string, req ResolveChallengeRequest) (Ack, error) {
	return c.hostAction(ctx, code, "/challenge/resolve", hostToken, req)
}

type ReconcileScoresRequest struct {
	QuestionIndex   int                         `json:"questionIndex"`
	Policy          domain.ReconciliationPolicy `json:"policy"`
	AcceptedAnswers []int                       `json:"acceptedAnswers,omitempty"`
}

func (c *Client) ReconcileScores(ctx context.Context, code, hostToken string, req ReconcileScoresRequest) (Ack, error) {
	return c.hostAction(ctx, code, "/scores/reconcile", hostToken, req)
}

func (c *Client) RequestAIVerification(ctx context.Context, code, hostToken string, questionIndex int) (Ack, error) {
	return c.hostAction(ctx, code, "/challenge/ai-verify", hostToken, map[string]int{"questionIndex": questionIndex})
}

func (c *Client) PublishAIVerification(ctx context.Context, code, hostToken string, questionIndex int) (Ack, error) {
	return c.hostAction(ctx, code, "/challenge/ai-publish", hostToken, map[string]int{"questionIndex": questionIndex})
}

func (c *Client) hostAction(ctx context.Context, code, suffix, hostToken string, body any) (Ack, error) {
	if hostToken == "" {
		return Ack{}, domain.ErrNotHost
	}
	id := domain.HostIdentity(hostToken)
	if body == nil {
		body = struct{}{}
	}
	var ack Ack
	err := c.do(ctx, http.MethodPost, sessionPath(code, suffix), nil, &id, body, &ack)
	return ack, err
}
