package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/api"
	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
	"pulsequiz-sync/internal/realtime"
)

// identities live for a day; a quiz never runs longer
const prefTTL = 24 * time.Hour

type Options struct {
	Clock          clockwork.Clock
	ConnectTimeout time.Duration
	PollInterval   time.Duration

	Prefs   app.PreferenceStore
	Journal app.EventJournal

	// Prefetch is used when Generator is set. The host appends through the
	// session API; other roles need an explicit Sink.
	Prefetch  app.PrefetchConfig
	Generator app.Generator
	Sink      app.QuestionSink
}

// QuizClient attaches to one session at a time and keeps its reduced state
// current over whichever transport is available.
type QuizClient struct {
	api  *api.Client
	opts Options
	errs chan error

	mu       sync.Mutex
	ident    domain.Identity
	session  *app.Session
	conn     *realtime.SmartConnection
	prefetch *app.Prefetcher
	writer   *app.JournalWriter
	cancel   context.CancelFunc
}

func New(apiClient *api.Client, opts Options) *QuizClient {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &QuizClient{api: apiClient, opts: opts, errs: make(chan error, 8)}
}

// Errors delivers transport-fatal and server errors.
func (c *QuizClient) Errors() <-chan error {
	return c.errs
}

func (c *QuizClient) report(err error) {
	select {
	case c.errs <- err:
	default:
		log.Warn().Err(err).Msg("error channel full, dropping")
	}
}

// CreateSession creates a session and keeps its host token.
func (c *QuizClient) CreateSession(ctx context.Context, req api.CreateSessionRequest) (api.CreateSessionResponse, error) {
	resp, err := c.api.CreateSession(ctx, req)
	if err != nil {
		return resp, fmt.Errorf("create session: %w", err)
	}
	c.savePref(ctx, app.SessionPref(resp.Code, app.PrefHostToken), resp.HostToken)
	return resp, nil
}

// Join registers as a player and keeps the player id.
func (c *QuizClient) Join(ctx context.Context, code, nickname string) (string, error) {
	playerID, err := c.api.Join(ctx, code, nickname)
	if err != nil {
		return "", fmt.Errorf("join %s: %w", code, err)
	}
	c.savePref(ctx, app.SessionPref(code, app.PrefPlayerID), playerID)
	c.savePref(ctx, app.PrefLastNickname, nickname)
	return playerID, nil
}

// ObserverIdentity returns the persisted observer id, minting one on first use.
func (c *QuizClient) ObserverIdentity(ctx context.Context) domain.Identity {
	if c.opts.Prefs != nil {
		if id, err := c.opts.Prefs.Get(ctx, app.PrefObserverID); err == nil && id != "" {
			return domain.ObserverIdentity(id)
		}
	}
	id := uuid.NewString()
	c.savePref(ctx, app.PrefObserverID, id)
	return domain.ObserverIdentity(id)
}

// Connect attaches to a session, replacing any previous attachment.
func (c *QuizClient) Connect(ctx context.Context, serverURL, code string, ident domain.Identity) (*app.Session, error) {
	role, err := ident.Role()
	if err != nil {
		return nil, err
	}
	_ = c.Close()

	sess := app.NewSession(code, c.opts.Clock)
	var writer *app.JournalWriter
	if c.opts.Journal != nil {
		writer = app.NewJournalWriter(c.opts.Journal, 0)
		sess.WithJournal(writer)
	}
	sess.OnServerError(func(se *domain.ServerError) { c.report(se) })

	prefetch := c.newPrefetcher(code, ident, role)

	runCtx, cancel := context.WithCancel(ctx)
	handlers := realtime.Handlers{
		OnEvent: func(evt domain.Event) {
			st := sess.Apply(evt)
			if prefetch != nil {
				prefetch.Observe(runCtx, st)
			}
		},
		OnModeChange: func(m realtime.Mode) { sess.SetMode(string(m)) },
		OnError:      c.report,
	}
	conn, err := realtime.Connect(runCtx, code, ident, c.api, realtime.Options{
		ServerURL:      serverURL,
		Clock:          c.opts.Clock,
		ConnectTimeout: c.opts.ConnectTimeout,
		PollInterval:   c.opts.PollInterval,
	}, handlers)
	if err != nil {
		cancel()
		if writer != nil {
			writer.Close()
		}
		return nil, err
	}

	c.mu.Lock()
	c.ident = ident
	c.session = sess
	c.conn = conn
	c.prefetch = prefetch
	c.writer = writer
	c.cancel = cancel
	c.mu.Unlock()

	c.savePref(ctx, app.PrefLastSession, code)
	c.savePref(ctx, app.PrefLastRole, string(role))
	log.Info().Str("code", code).Str("role", string(role)).Str("conn_id", conn.ID()).Msg("attached to session")
	return sess, nil
}

func (c *QuizClient) newPrefetcher(code string, ident domain.Identity, role domain.Role) *app.Prefetcher {
	if c.opts.Generator == nil || !c.opts.Prefetch.Enabled {
		return nil
	}
	sink := c.opts.Sink
	if sink == nil && role == domain.RoleHost {
		sink = api.HostSink{Client: c.api, Code: code, HostToken: ident.HostToken}
	}
	if sink == nil {
		return nil
	}
	cfg := c.opts.Prefetch
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = app.LookaheadFor(role)
	}
	if role == domain.RolePlayer && cfg.PlayerID == "" {
		cfg.PlayerID = ident.PlayerID
	}
	return app.NewPrefetcher(cfg, c.opts.Generator, sink)
}

// Resume reattaches to the last session using stored identities.
func (c *QuizClient) Resume(ctx context.Context, serverURL string) (*app.Session, error) {
	if c.opts.Prefs == nil {
		return nil, domain.ErrPreferenceNotFound
	}
	code, err := c.opts.Prefs.Get(ctx, app.PrefLastSession)
	if err != nil {
		return nil, fmt.Errorf("resume: last session: %w", err)
	}
	role, err := c.opts.Prefs.Get(ctx, app.PrefLastRole)
	if err != nil {
		return nil, fmt.Errorf("resume: last role: %w", err)
	}

	var ident domain.Identity
	switch domain.Role(role) {
	case domain.RoleHost:
		token, err := c.opts.Prefs.Get(ctx, app.SessionPref(code, app.PrefHostToken))
		if err != nil {
			return nil, fmt.Errorf("resume: host token: %w", err)
		}
		ident = domain.HostIdentity(token)
	case domain.RolePlayer:
		id, err := c.opts.Prefs.Get(ctx, app.SessionPref(code, app.PrefPlayerID))
		if err != nil {
			return nil, fmt.Errorf("resume: player id: %w", err)
		}
		ident = domain.PlayerIdentity(id)
	default:
		ident = c.ObserverIdentity(ctx)
	}
	return c.Connect(ctx, serverURL, code, ident)
}

// HostIdentity returns the stored host token for a session.
func (c *QuizClient) HostIdentity(ctx context.Context, code string) (domain.Identity, error) {
	if c.opts.Prefs == nil {
		return domain.Identity{}, domain.ErrPreferenceNotFound
	}
	token, err := c.opts.Prefs.Get(ctx, app.SessionPref(code, app.PrefHostToken))
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.HostIdentity(token), nil
}

func (c *QuizClient) Session() *app.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *QuizClient) Mode() realtime.Mode {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return realtime.ModeClosed
	}
	return conn.Mode()
}

// Prefetch reports the batch controller state. ok is false when disabled.
func (c *QuizClient) Prefetch() (app.PrefetchState, bool) {
	c.mu.Lock()
	p := c.prefetch
	c.mu.Unlock()
	if p == nil {
		return app.PrefetchState{}, false
	}
	return p.State(), true
}

func (c *QuizClient) attached() (*app.Session, domain.Identity, *app.Prefetcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, domain.Identity{}, nil, domain.ErrNotConnected
	}
	return c.session, c.ident, c.prefetch, nil
}

func (c *QuizClient) hostToken() (*app.Session, string, error) {
	sess, ident, _, err := c.attached()
	if err != nil {
		return nil, "", err
	}
	if ident.HostToken == "" {
		return nil, "", domain.ErrNotHost
	}
	return sess, ident.HostToken, nil
}

func (c *QuizClient) UploadQuestions(ctx context.Context, questions []domain.Question) error {
	sess, token, err := c.hostToken()
	if err != nil {
		return err
	}
	_, err = c.api.UploadQuestions(ctx, sess.Code(), token, questions)
	return err
}

// UploadQuestionSet loads a stored set and uploads it to the session.
func (c *QuizClient) UploadQuestionSet(ctx context.Context, loader app.QuestionSetLoader, id string) (int, error) {
	questions, err := loader.LoadQuestionSet(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("question set %s: %w", id, err)
	}
	if err := c.UploadQuestions(ctx, questions); err != nil {
		return 0, err
	}
	return len(questions), nil
}

func (c *QuizClient) Start(ctx context.Context) error {
	sess, token, err := c.hostToken()
	if err != nil {
		return err
	}
	_, err = c.api.Start(ctx, sess.Code(), token)
	return err
}

// Next advances to the next question. At the last loaded question with more
// owed it first waits for the pending batch.
func (c *QuizClient) Next(ctx context.Context) error {
	sess, token, err := c.hostToken()
	if err != nil {
		return err
	}
	_, _, prefetch, _ := c.attached()
	if prefetch != nil {
		st := sess.State()
		if prefetch.MustBlock(st) {
			prefetch.Observe(ctx, st)
			log.Info().Str("code", sess.Code()).Msg("waiting for question batch before advancing")
			if err := prefetch.Wait(ctx); err != nil {
				return fmt.Errorf("next: %w", err)
			}
		}
	}
	if _, err := c.api.Next(ctx, sess.Code(), token); err != nil {
		return fmt.Errorf("next: %w", err)
	}
	return nil
}

func (c *QuizClient) Reveal(ctx context.Context) error {
	sess, token, err := c.hostToken()
	if err != nil {
		return err
	}
	_, err = c.api.Reveal(ctx, sess.Code(), token)
	return err
}

// SelectAnswer marks the choice locally and submits it.
func (c *QuizClient) SelectAnswer(ctx context.Context, choice int) error {
	sess, ident, _, err := c.attached()
	if err != nil {
		return err
	}
	if ident.PlayerID == "" {
		return domain.ErrInvalidIdentity
	}
	idx := sess.State().Snapshot.CurrentQuestionIndex
	sess.Apply(domain.MustEvent(domain.EventLocalAnswerSelected, domain.AnswerSelectedPayload{QuestionIndex: idx, Choice: choice}))
	_, err = c.api.SubmitAnswer(ctx, sess.Code(), ident.PlayerID, idx, choice)
	return err
}

// FlagChallenge marks the current question as disputed and submits the challenge.
func (c *QuizClient) FlagChallenge(ctx context.Context, questionIndex int, note string) error {
	sess, ident, _, err := c.attached()
	if err != nil {
		return err
	}
	if ident.PlayerID == "" {
		return domain.ErrInvalidIdentity
	}
	sess.Apply(domain.MustEvent(domain.EventLocalChallengeFlagged, domain.ChallengeFlaggedPayload{QuestionIndex: questionIndex}))
	_, err = c.api.SubmitChallenge(ctx, sess.Code(), ident.PlayerID, questionIndex, note)
	return err
}

// Close detaches from the current session. Safe to call repeatedly.
func (c *QuizClient) Close() error {
	c.mu.Lock()
	conn, writer, cancel := c.conn, c.writer, c.cancel
	c.conn, c.writer, c.cancel = nil, nil, nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if writer != nil {
		writer.Close()
	}
	return err
}

func (c *QuizClient) savePref(ctx context.Context, key, value string) {
	if c.opts.Prefs == nil || value == "" {
		return
	}
	if err := c.opts.Prefs.Set(ctx, key, value, prefTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("saving preference failed")
	}
}
