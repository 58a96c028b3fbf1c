package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
)

// Journal appends normalized events to the game_events table.
type Journal struct {
	pool *pgxpool.Pool
}

func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) Record(ctx context.Context, code string, evt domain.Event) error {
	data, err := evt.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO game_events (session_code, event_type, payload) VALUES ($1, $2, $3)`,
		code, string(evt.Type), data)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Entries returns up to limit events of a session, oldest first. A zero limit
// returns everything.
func (j *Journal) Entries(ctx context.Context, code string, limit int) ([]app.JournalEntry, error) {
	query := `SELECT id, payload FROM game_events WHERE session_code=$1 ORDER BY id`
	args := []any{code}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []app.JournalEntry
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt, err := domain.DecodeEvent(payload)
		if err != nil {
			continue
		}
		entries = append(entries, app.JournalEntry{Seq: seq, Code: code, Event: evt})
	}
	return entries, rows.Err()
}
