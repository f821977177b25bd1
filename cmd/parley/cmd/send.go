package cmd

import (
	"fmt"
	"strings"

	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/identity"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send one message to the room",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender := chat.NewSender(env.backend, identity.Static(env.user), nil, nil)
		msg, err := sender.Send(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s as %s\n", msg.ID, msg.DisplayName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
