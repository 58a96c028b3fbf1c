package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pulsequiz-sync/internal/app"
)

func newJoinCmd(g *globals) *cobra.Command {
	var code, nickname string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a session as a player and remember the player id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				return errors.New("--code is required")
			}
			ctx := cmd.Context()
			rdb := g.redisClient()
			if rdb != nil {
				defer rdb.Close()
			}
			prefs := g.preferences(rdb)
			if nickname == "" {
				nickname, _ = prefs.Get(ctx, app.PrefLastNickname)
			}
			if nickname == "" {
				return errors.New("--nickname is required")
			}

			qc := g.newClient(prefs, nil)
			playerID, err := qc.Join(ctx, code, nickname)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), playerID)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "session code")
	cmd.Flags().StringVar(&nickname, "nickname", "", "display name; defaults to the last one used")
	return cmd
}
