package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/typing"
	"github.com/spf13/cobra"
)

var (
	typeFor      time.Duration
	typeInterval time.Duration
	typeThenSend string
)

var typeCmd = &cobra.Command{
	Use:   "type",
	Short: "Show as typing for a while",
	Long: `type sends a simulated keystroke every --every until --for has passed,
then either sends --send or lets the indicator expire.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timings := env.cfg.GetTyping()
		coordinator, err := typing.NewCoordinator(env.backend, identity.Static(env.user),
			typing.WithReannounceInterval(timings.ReannounceInterval),
			typing.WithQuietPeriod(timings.QuietPeriod),
			typing.WithStaleThreshold(timings.StaleThreshold),
			typing.WithWriteTimeout(env.cfg.GetWriteTimeout()),
		)
		if err != nil {
			return err
		}
		if err := coordinator.Mount(cmd.Context()); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			coordinator.Unmount(ctx)
		}()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "typing as %s for %s\n", env.user.Name(), typeFor)

		ticker := time.NewTicker(typeInterval)
		defer ticker.Stop()
		deadline := time.After(typeFor)
		coordinator.OnKeystroke()

	loop:
		for {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-deadline:
				break loop
			case <-ticker.C:
				coordinator.OnKeystroke()
			}
		}

		if typeThenSend == "" {
			fmt.Fprintln(out, "stopped typing")
			return nil
		}
		sender := chat.NewSender(env.backend, identity.Static(env.user), coordinator, nil)
		msg, err := sender.Send(cmd.Context(), typeThenSend)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s\n", msg.ID)
		return nil
	},
}

func init() {
	typeCmd.Flags().DurationVar(&typeFor, "for", 5*time.Second, "how long to keep typing")
	typeCmd.Flags().DurationVar(&typeInterval, "every", 200*time.Millisecond, "gap between simulated keystrokes")
	typeCmd.Flags().StringVar(&typeThenSend, "send", "", "message to send when done")
	rootCmd.AddCommand(typeCmd)
}
