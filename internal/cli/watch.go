package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/client"
	"pulsequiz-sync/internal/domain"
	transport "pulsequiz-sync/internal/transport/http"
)

func newWatchCmd(g *globals) *cobra.Command {
	var (
		code      string
		role      string
		secret    string
		resume    bool
		relay     string
		countdown bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach to a session and print its events as NDJSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" && !resume {
				return errors.New("either --code or --resume is required")
			}
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

			var sess *app.Session
			if resume {
				sess, err = qc.Resume(ctx, g.server)
			} else {
				var ident domain.Identity
				ident, err = resolveIdentity(ctx, qc, prefs, code, role, secret)
				if err != nil {
					return err
				}
				sess, err = qc.Connect(ctx, g.server, code, ident)
			}
			if err != nil {
				return err
			}
			return runAttached(ctx, qc, sess, relay, countdown)
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "session code")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleObserver), "host, player or observer")
	cmd.Flags().StringVar(&secret, "token", "", "host token or player id; defaults to the stored one")
	cmd.Flags().BoolVar(&resume, "resume", false, "reattach to the last session")
	cmd.Flags().StringVar(&relay, "relay", "", "serve the local view relay on this address")
	cmd.Flags().BoolVar(&countdown, "countdown", true, "tick the timer locally between server updates")
	return cmd
}

// runAttached keeps the session alive until ctx ends or the transport fails.
func runAttached(ctx context.Context, qc *client.QuizClient, sess *app.Session, relay string, countdown bool) error {
	grp, gctx := errgroup.WithContext(ctx)

	if countdown {
		grp.Go(func() error {
			sess.RunCountdown(gctx)
			return nil
		})
	}

	if relay != "" {
		srv := &http.Server{
			Addr:              relay,
			Handler:           transport.NewViewHandler(sess, qc).Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		grp.Go(func() error {
			log.Info().Str("addr", relay).Msg("serving view relay")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	grp.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-qc.Errors():
				var connErr *domain.ConnectionError
				if errors.As(err, &connErr) {
					return err
				}
				log.Warn().Err(err).Str("code", sess.Code()).Msg("server reported an error")
			}
		}
	})

	return grp.Wait()
}
