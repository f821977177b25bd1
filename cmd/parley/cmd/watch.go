package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/identity"
	"github.com/nfrund/parley/internal/presence"
	"github.com/nfrund/parley/internal/typing"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the room until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p := &printer{out: cmd.OutOrStdout(), seen: make(map[string]struct{})}

		svc := presence.NewService(env.backend, presence.WithWriteTimeout(env.cfg.GetWriteTimeout()))
		clientID := uuid.NewString()
		svc.Enter(ctx, env.user, clientID)

		timings := env.cfg.GetTyping()
		coordinator, err := typing.NewCoordinator(env.backend, identity.Static(env.user),
			typing.WithReannounceInterval(timings.ReannounceInterval),
			typing.WithQuietPeriod(timings.QuietPeriod),
			typing.WithStaleThreshold(timings.StaleThreshold),
			typing.WithOnChange(p.typing),
		)
		if err != nil {
			svc.Exit(context.Background(), env.user.ID, clientID)
			return err
		}
		if err := coordinator.Mount(ctx); err != nil {
			svc.Exit(context.Background(), env.user.ID, clientID)
			return err
		}

		feed := chat.WatchFeed(ctx, env.backend, env.user.ID, p.messages)
		roster := presence.WatchRoster(ctx, env.backend, p.roster)

		fmt.Fprintf(p.out, "watching as %s, press Ctrl+C to stop\n", env.user.Name())
		<-ctx.Done()

		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		roster.Close()
		feed.Close()
		coordinator.Unmount(closeCtx)
		svc.Exit(closeCtx, env.user.ID, clientID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// printer writes room updates as plain lines.
type printer struct {
	out io.Writer

	mu         sync.Mutex
	lastTyping string
	lastRoster string
	seen       map[string]struct{}
}

func (p *printer) typing(entries []typing.Entry) {
	text := typing.IndicatorText(entries)

	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.lastTyping {
		return
	}
	p.lastTyping = text
	if text == "" {
		fmt.Fprintln(p.out, "* nobody is typing")
		return
	}
	fmt.Fprintf(p.out, "* %s...\n", text)
}

func (p *printer) roster(users []presence.Record) {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name()
	}
	line := strings.Join(names, ", ")

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.lastRoster {
		return
	}
	p.lastRoster = line
	fmt.Fprintf(p.out, "* online (%d): %s\n", len(users), line)
}

func (p *printer) messages(items []chat.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range items {
		if _, ok := p.seen[item.ID]; ok {
			continue
		}
		p.seen[item.ID] = struct{}{}
		at := item.Timestamp().Local().Format("15:04")
		fmt.Fprintf(p.out, "[%s] %s: %s\n", at, item.Name(), item.Text)
	}
}
