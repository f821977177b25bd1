package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nfrund/parley/internal/app"
	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagName   string
	flagAvatar string
	flagUserID string
)

// env is what every subcommand works with once the root command has
// connected.
var env struct {
	cfg     *config.Config
	backend backend.Backend
	user    identity.User
}

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Terminal client for the Parley group chat",
	Long: `parley talks to the same backend as the web chat.

It can follow the room (typing indicator, online users and messages),
send a message, or simulate typing for a while.

Use "parley [command] --help" for more information about a command.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.New(cfg.GetLogFormat(), cfg.GetLogLevel())

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		b, err := app.OpenBackend(ctx, cfg)
		if err != nil {
			return err
		}

		user := identity.New(flagName, flagAvatar)
		if flagUserID != "" {
			user.ID = flagUserID
		}
		if err := backend.ValidateKey(user.ID); err != nil {
			_ = b.Close()
			return fmt.Errorf("--user-id: %w", err)
		}

		env.cfg, env.backend, env.user = cfg, b, user
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if env.backend == nil {
			return nil
		}
		return env.backend.Close()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagName, "name", "", "display name (defaults to Anonymous)")
	rootCmd.PersistentFlags().StringVar(&flagAvatar, "avatar", "", "avatar URL (defaults to a generated one)")
	rootCmd.PersistentFlags().StringVar(&flagUserID, "user-id", "", "stable user id (defaults to a new random id)")
}
