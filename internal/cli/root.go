package cli

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pulsequiz-sync/internal/config"
)

// globals is filled before any subcommand runs.
type globals struct {
	configPath string
	server     string
	cfg        config.Config
}

// Execute runs the CLI.
func Execute() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	envServer := os.Getenv("PULSEQUIZ_SERVER")
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:           "pulsequiz",
		Short:         "Real-time PulseQuiz session client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			g.cfg = cfg
			setupLogging(cfg.Log.Level, cfg.Log.Pretty)
			g.server = resolveServer(g.server, envServer, cfg.Server.URL)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().StringVar(&g.server, "server", "", "session server base URL (env PULSEQUIZ_SERVER)")
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newJoinCmd(g))
	cmd.AddCommand(newHostCmd(g))
	cmd.AddCommand(newReplayCmd(g))
	cmd.AddCommand(newMigrateCmd(g))
	return cmd
}

// resolveServer picks the flag, then the environment, then the config file.
func resolveServer(flag, env, configured string) string {
	for _, s := range []string{flag, env, configured} {
		if s != "" {
			return s
		}
	}
	return "http://localhost:8000"
}

func setupLogging(level string, pretty bool) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
