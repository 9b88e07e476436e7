package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/outbound/logging"
	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/outbound/wsclient"
	"github.com/zengyi-thinking/Agent-team-dashboard/config"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/service"
)

const dialTimeout = 10 * time.Second

var updateLabels = map[model.UpdateCategory]string{
	model.TeamsChanged:         "teams updated",
	model.TasksChanged:         "tasks updated",
	model.ConversationsChanged: "conversations updated",
}

type watchOptions struct {
	url   string
	token string
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	wopts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to the broadcast channel and print every update",
		Long: `Runs a headless subscriber session. Each data notification prints one
line; the command exits non-zero once reconnection gives up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			logger := logging.NewSlogAdapter(cfg)
			defer logger.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cfg, wopts, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&wopts.url, "url", "", "Broadcast endpoint (defaults to client.url)")
	cmd.Flags().StringVar(&wopts.token, "token", "", "Handshake token (minted from the configured secret when empty)")

	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, wopts *watchOptions, out io.Writer, logger outbound.Logger) error {
	url := cfg.Client.URL
	if wopts.url != "" {
		url = wopts.url
	}

	token := wopts.token
	if token == "" && cfg.Security.TokenSecret != "" {
		minted, err := service.NewHandshakeService(cfg.Security.TokenSecret, cfg.Security.TokenTTL, logger).MintToken("watch")
		if err != nil {
			return err
		}
		token = minted
	}

	coordinator := service.NewUpdateCoordinator(logger)

	terminal := make(chan error, 1)
	session := wsclient.NewSession(wsclient.Options{
		URL:          url,
		Token:        token,
		PingInterval: cfg.Client.PingInterval,
		Backoff:      cfg.Client.Reconnect,
		OnStateChange: func(from, to model.ConnectionState) {
			if to == model.Connected {
				fmt.Fprintf(out, "%s connected to %s\n", time.Now().Format(time.TimeOnly), url)
			}
		},
		OnReconnectScheduled: func(attempt int, delay time.Duration) {
			fmt.Fprintf(out, "%s connection lost, reconnecting in %s (attempt %d)\n",
				time.Now().Format(time.TimeOnly), delay, attempt)
		},
		OnTerminalFailure: func(err error) {
			select {
			case terminal <- err:
			default:
			}
		},
	}, wsclient.NewDialer(dialTimeout, cfg.Broadcast.WriteTimeout), coordinator, logger)

	// the session connects with the first view and closes with the last
	coordinator.SetLifecycle(session.Connect, session.Disconnect)
	for _, category := range model.DataCategories() {
		label := updateLabels[category]
		unsubscribe, err := coordinator.Subscribe(category, func() {
			fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), label)
		})
		if err != nil {
			return err
		}
		defer unsubscribe()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-terminal:
		fmt.Fprintf(out, "%s %v\n", time.Now().Format(time.TimeOnly), err)
		return err
	}
}
