package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat/noise"
	"github.com/opd-ai/peerchat/transport/relay"
)

func relayCmd() *cobra.Command {
	var (
		listen        string
		generateKey   bool
		requireSecure bool
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the signaling relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if generateKey {
				key, err := noise.GenerateStaticKey()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "relay.private_key: %s\n", noise.PrivateKeyHex(key))
				fmt.Fprintf(out, "relay.key:         %s\n", noise.PublicKeyHex(key))
				return nil
			}

			if cmd.Flags().Changed("listen") {
				cfg.Relay.Listen = listen
			}
			if cmd.Flags().Changed("require-secure") {
				cfg.Relay.RequireSecure = requireSecure
			}

			static, err := cfg.Relay.StaticKey()
			if err != nil {
				return err
			}
			srv := relay.NewServer(relay.ServerOptions{
				StaticKey:     static,
				RequireSecure: cfg.Relay.RequireSecure,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveRelay(ctx, cfg.Relay.Listen, srv)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from relay.listen)")
	cmd.Flags().BoolVar(&requireSecure, "require-secure", false, "reject clients without a Noise link")
	cmd.Flags().BoolVar(&generateKey, "generate-key", false, "print a new Noise static key pair and exit")
	return cmd
}

// serveRelay runs srv on addr until ctx is canceled.
func serveRelay(ctx context.Context, addr string, srv *relay.Server) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "serveRelay",
			"listen":   addr,
		}).Info("Relay listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logrus.WithFields(logrus.Fields{
		"function": "serveRelay",
	}).Info("Relay shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Close()
	return httpServer.Shutdown(shutdownCtx)
}
