package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
	"pulsequiz-sync/internal/infra/postgres"
)

type replaySummary struct {
	Code                 string                    `json:"code"`
	Events               int                       `json:"events"`
	Status               domain.SessionStatus      `json:"status"`
	CurrentQuestionIndex int                       `json:"currentQuestionIndex"`
	QuestionCount        int                       `json:"questionCount"`
	Leaderboard          []domain.LeaderboardEntry `json:"leaderboard"`
	Reveal               *domain.RevealResults     `json:"reveal,omitempty"`
}

func summarize(code string, entries []app.JournalEntry) replaySummary {
	st := app.Replay(code, entries)
	return replaySummary{
		Code:                 code,
		Events:               len(entries),
		Status:               st.Snapshot.Status,
		CurrentQuestionIndex: st.Snapshot.CurrentQuestionIndex,
		QuestionCount:        len(st.Snapshot.Questions),
		Leaderboard:          st.Standings(),
		Reveal:               st.Reveal,
	}
}

func newReplayCmd(g *globals) *cobra.Command {
	var (
		code  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a session from the Postgres event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				return errors.New("--code is required")
			}
			ctx := cmd.Context()
			pool, err := g.pool(ctx)
			if err != nil {
				return err
			}
			if pool == nil {
				return errors.New("postgres url not configured")
			}
			defer pool.Close()

			entries, err := postgres.NewJournal(pool).Entries(ctx, code, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summarize(code, entries))
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "session code")
	cmd.Flags().IntVar(&limit, "limit", 0, "replay only the first n events")
	return cmd
}
