package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/domain"
)

const (
	LookaheadHost   = 5
	LookaheadPlayer = 3

	defaultAccuracyPercent = 60
	defaultResponseTime    = 8000 * time.Millisecond
)

// LookaheadFor returns how many unplayed questions a role keeps buffered.
func LookaheadFor(role domain.Role) int {
	if role == domain.RoleHost {
		return LookaheadHost
	}
	return LookaheadPlayer
}

// Performance summarises recent answers for difficulty calibration.
type Performance struct {
	AccuracyPercent float64 `json:"accuracyPercent"`
	AvgResponseMs   int64   `json:"avgResponseMs"`
	Answers         int     `json:"answers"`
}

// Calibrate computes performance over the most recent window answers.
func Calibrate(records []AnswerRecord, window int) Performance {
	if window > 0 && len(records) > window {
		records = records[len(records)-window:]
	}
	if len(records) == 0 {
		return Performance{AccuracyPercent: defaultAccuracyPercent, AvgResponseMs: defaultResponseTime.Milliseconds()}
	}
	var correct int
	var total time.Duration
	for _, r := range records {
		if r.Correct {
			correct++
		}
		total += r.ResponseTime
	}
	return Performance{
		AccuracyPercent: float64(correct) / float64(len(records)) * 100,
		AvgResponseMs:   (total / time.Duration(len(records))).Milliseconds(),
		Answers:         len(records),
	}
}

// GenerateRequest is sent to the content generator.
type GenerateRequest struct {
	Topic       string      `json:"topic"`
	Count       int         `json:"count"`
	Difficulty  string      `json:"difficulty,omitempty"`
	Performance Performance `json:"performance"`
}

// GeneratedBatch is a generator response.
type GeneratedBatch struct {
	Questions  []domain.Question `json:"questions"`
	Difficulty string            `json:"difficulty"`
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GeneratedBatch, error)
}

// QuestionSink appends generated questions to the live session.
type QuestionSink interface {
	AppendQuestions(ctx context.Context, questions []domain.Question) error
}

type PrefetchConfig struct {
	Enabled     bool
	Topic       string
	Difficulty  string
	TargetCount int
	BatchSize   int
	Lookahead   int
	// PlayerID narrows calibration to one player; empty uses everyone.
	PlayerID string
}

// PrefetchState is a point-in-time copy of the controller state.
type PrefetchState struct {
	Enabled            bool
	TargetCount        int
	BatchSize          int
	CurrentBatch       int
	LastDifficulty     string
	GeneratingInFlight bool
}

// Prefetcher requests more generated questions before the client runs out.
// At most one generation call is outstanding at a time.
type Prefetcher struct {
	cfg  PrefetchConfig
	gen  Generator
	sink QuestionSink

	mu      sync.Mutex
	state   PrefetchState
	done    chan struct{}
	lastErr error

	// pending is the question count the server holds after the last
	// appended batch. State lags it until questions_updated arrives.
	pending int
}

func NewPrefetcher(cfg PrefetchConfig, gen Generator, sink QuestionSink) *Prefetcher {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = LookaheadPlayer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Prefetcher{
		cfg:  cfg,
		gen:  gen,
		sink: sink,
		state: PrefetchState{
			Enabled:        cfg.Enabled,
			TargetCount:    cfg.TargetCount,
			BatchSize:      cfg.BatchSize,
			LastDifficulty: cfg.Difficulty,
		},
	}
}

func (p *Prefetcher) target(s State) int {
	if s.TargetCount > 0 {
		return s.TargetCount
	}
	return p.cfg.TargetCount
}

// Observe checks the buffer against the lookahead and starts a generation
// call when it runs low. It reports whether a call was started.
func (p *Prefetcher) Observe(ctx context.Context, s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	loaded := max(len(s.Snapshot.Questions), p.pending)
	target := p.target(s)
	if !p.state.Enabled || p.state.GeneratingInFlight || loaded >= target {
		return false
	}
	if loaded-s.Snapshot.CurrentQuestionIndex-1 > p.cfg.Lookahead {
		return false
	}

	req := GenerateRequest{
		Topic:       p.cfg.Topic,
		Count:       min(p.cfg.BatchSize, target-loaded),
		Difficulty:  p.state.LastDifficulty,
		Performance: Calibrate(s.AnswerRecords(p.cfg.PlayerID), p.cfg.BatchSize),
	}
	p.state.GeneratingInFlight = true
	p.state.TargetCount = target
	done := make(chan struct{})
	p.done = done

	log.Info().
		Str("code", s.Snapshot.Code).
		Int("loaded", loaded).
		Int("target", target).
		Int("count", req.Count).
		Msg("requesting question batch")

	go p.run(ctx, req, loaded, done)
	return true
}

func (p *Prefetcher) run(ctx context.Context, req GenerateRequest, loaded int, done chan struct{}) {
	var err error
	defer func() {
		p.mu.Lock()
		p.state.GeneratingInFlight = false
		p.lastErr = err
		p.mu.Unlock()
		close(done)
	}()

	batch, err := p.gen.Generate(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("question generation failed")
		return
	}
	if len(batch.Questions) > req.Count {
		batch.Questions = batch.Questions[:req.Count]
	}
	if err = p.sink.AppendQuestions(ctx, batch.Questions); err != nil {
		log.Warn().Err(err).Msg("append generated questions failed")
		return
	}

	p.mu.Lock()
	p.pending = loaded + len(batch.Questions)
	p.state.CurrentBatch++
	if batch.Difficulty != "" {
		p.state.LastDifficulty = batch.Difficulty
	}
	p.mu.Unlock()
	log.Info().Int("questions", len(batch.Questions)).Str("difficulty", batch.Difficulty).Msg("question batch appended")
}

// MustBlock reports whether advancing past the current question has to wait
// for more questions. Questions already appended on the server count as loaded.
func (p *Prefetcher) MustBlock(s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	loaded := max(len(s.Snapshot.Questions), p.pending)
	return p.state.Enabled && s.Snapshot.CurrentQuestionIndex >= loaded-1 && loaded < p.target(s)
}

// Wait blocks until the in-flight batch resolves. It returns the batch error,
// or nil when nothing is in flight.
func (p *Prefetcher) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Prefetcher) State() PrefetchState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
