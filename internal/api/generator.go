package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
)

// Generator calls the question generation backend.
type Generator struct {
	client *Client
}

func NewGenerator(baseURL string, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{client: NewClient(baseURL, timeout)}
}

func (g *Generator) Generate(ctx context.Context, req app.GenerateRequest) (app.GeneratedBatch, error) {
	var batch app.GeneratedBatch
	if err := g.client.do(ctx, http.MethodPost, "/api/generate", nil, nil, req, &batch); err != nil {
		return app.GeneratedBatch{}, fmt.Errorf("generate questions: %w", err)
	}
	if len(batch.Questions) == 0 {
		return app.GeneratedBatch{}, fmt.Errorf("generate questions: empty batch")
	}
	return batch, nil
}

// HostSink appends generated questions through the host action.
type HostSink struct {
	Client    *Client
	Code      string
	HostToken string
}

func (s HostSink) AppendQuestions(ctx context.Context, questions []domain.Question) error {
	_, err := s.Client.AppendQuestions(ctx, s.Code, s.HostToken, questions)
	return err
}
