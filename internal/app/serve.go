package app

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/defi-agent/internal/custody"
	"github.com/ggonzalez94/defi-agent/internal/metrics"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/transport/ws"
)

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen, origins string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve swap sessions over websocket, one session per connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := s.buildPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.close()

			if pw := os.Getenv(envWalletPassword); pw != "" && p.wallet.State() == custody.StateLocked {
				if err := p.wallet.Unlock(pw); err != nil {
					return err
				}
			}
			defer p.wallet.Lock()
			if p.wallet.State() != custody.StateUnlocked {
				s.log.WithField("account", s.settings.Account).Warn("wallet is not unlocked; sessions can quote but not execute")
			}

			addr := s.settings.ListenAddr
			if strings.TrimSpace(listen) != "" {
				addr = strings.TrimSpace(listen)
			}
			server := ws.NewServer(func(sessionID string, sink func(model.Event)) ws.Session {
				return s.newSession(p, s.log.WithField("session_id", sessionID), sink)
			}, ws.WithLogger(s.log), ws.WithAllowedOrigins(splitCSV(origins)))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Serve(gctx, addr) })
			g.Go(func() error { return metrics.Serve(gctx, s.settings.MetricsAddr, s.log) })
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (default from listen_addr)")
	cmd.Flags().StringVar(&origins, "allowed-origins", "", "Browser origins allowed to connect (comma-separated)")
	return cmd
}
