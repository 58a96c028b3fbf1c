package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pulsequiz-sync/internal/api"
	"pulsequiz-sync/internal/client"
	"pulsequiz-sync/internal/domain"
)

func newHostCmd(g *globals) *cobra.Command {
	var (
		code          string
		setID         string
		questionsFile string
		roundSize     int
		timerSeconds  int
	)
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create or reattach to a session and drive it from stdin",
		Long: "Reads commands from stdin, one per line: start, next, reveal, status, quit.\n" +
			"Events are printed as NDJSON on stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rdb := g.redisClient()
			if rdb != nil {
				defer rdb.Close()
			}
			pool, err := g.pool(ctx)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}
			journal, cleanup, err := g.journal(pool, newNDJSONJournal(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			defer cleanup()

			prefs := g.preferences(rdb)
			qc := g.newClient(prefs, journal)
			defer qc.Close()

			var ident domain.Identity
			if code == "" {
				req := api.CreateSessionRequest{RoundSize: roundSize}
				if timerSeconds > 0 {
					req.Settings = &domain.GameSettings{TimerMode: true, TimerSeconds: timerSeconds}
				}
				resp, err := qc.CreateSession(ctx, req)
				if err != nil {
					return err
				}
				code = resp.Code
				ident = domain.HostIdentity(resp.HostToken)
				log.Info().Str("code", code).Msg("session created")
			} else if ident, err = qc.HostIdentity(ctx, code); err != nil {
				return fmt.Errorf("no stored host token for %s: %w", code, err)
			}

			if _, err := qc.Connect(ctx, g.server, code, ident); err != nil {
				return err
			}

			switch {
			case setID != "":
				loader, err := g.questionSets(pool, rdb)
				if err != nil {
					return err
				}
				n, err := qc.UploadQuestionSet(ctx, loader, setID)
				if err != nil {
					return err
				}
				log.Info().Str("set", setID).Int("questions", n).Msg("question set uploaded")
			case questionsFile != "":
				questions, err := readQuestions(questionsFile)
				if err != nil {
					return err
				}
				if err := qc.UploadQuestions(ctx, questions); err != nil {
					return err
				}
				log.Info().Int("questions", len(questions)).Msg("questions uploaded")
			}

			return hostConsole(ctx, qc, cmd.InOrStdin(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "reattach to an existing session instead of creating one")
	cmd.Flags().StringVar(&setID, "set", "", "stored question set to upload")
	cmd.Flags().StringVar(&questionsFile, "questions", "", "JSON file with questions to upload")
	cmd.Flags().IntVar(&roundSize, "round-size", 0, "questions per round")
	cmd.Flags().IntVar(&timerSeconds, "timer", 0, "seconds per question; 0 disables the timer")
	return cmd
}

func readQuestions(path string) ([]domain.Question, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return questions, nil
}

func hostConsole(ctx context.Context, qc *client.QuizClient, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-qc.Errors():
			fmt.Fprintf(out, "error: %v\n", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			var err error
			switch line {
			case "":
				continue
			case "start":
				err = qc.Start(ctx)
			case "next":
				err = qc.Next(ctx)
			case "reveal":
				err = qc.Reveal(ctx)
			case "status":
				sess := qc.Session()
				if sess == nil {
					err = domain.ErrNotConnected
					break
				}
				v := sess.View()
				fmt.Fprintf(out, "%s %s question %d/%d players %d mode %s\n",
					v.Code, v.Status, v.CurrentQuestionIndex+1, v.QuestionCount, len(v.Players), v.Mode)
			case "quit", "exit":
				return nil
			default:
				fmt.Fprintf(out, "unknown command %q\n", line)
			}
			if err != nil {
				fmt.Fprintf(out, "%s failed: %v\n", line, err)
			}
		}
	}
}
