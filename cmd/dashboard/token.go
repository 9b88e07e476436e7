package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/outbound/logging"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/service"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a handshake token for the broadcast endpoint",
		Long: `Prints a signed token accepted by the broadcast endpoint when
security.tokenSecret is configured. Pass it as "Authorization: Bearer <token>"
or as the token query parameter.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			logger := logging.NewSlogAdapter(cfg)
			defer logger.Shutdown()

			handshake := service.NewHandshakeService(cfg.Security.TokenSecret, cfg.Security.TokenTTL, logger)
			token, err := handshake.MintToken(subject)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dashboard", "Subject recorded in the token")

	return cmd
}
