package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"neuroswarm/pkg/neuroswarm"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		addr    string
		restore bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the swarm and expose Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := cmd.Context()
			if base == nil {
				base = context.Background()
			}
			ctx, stop := signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return withClient(cmd, flags, func(ctx context.Context, client *neuroswarm.Client) error {
				if restore {
					restored, err := client.Restore(ctx)
					switch {
					case errors.Is(err, neuroswarm.ErrNotFound), errors.Is(err, neuroswarm.ErrFeatureDisabled):
					case err != nil:
						return err
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "restored_agents=%d\n", len(restored))
					}
				}
				listener, err := net.Listen("tcp", addr)
				if err != nil {
					return fmt.Errorf("listen %s: %w", addr, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "serving metrics at http://%s/metrics\n", listener.Addr())
				return serveMetrics(ctx, listener, client)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9464", "listen address for the metrics endpoint")
	cmd.Flags().BoolVar(&restore, "restore", true, "restore the latest checkpoint before serving")
	return cmd
}

func metricsHandler(client *neuroswarm.Client) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(client.Collector()); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok health=%d agents=%d\n", client.Metrics().SystemHealthScore, len(client.Agents()))
	})
	return mux, nil
}

func serveMetrics(ctx context.Context, listener net.Listener, client *neuroswarm.Client) error {
	handler, err := metricsHandler(client)
	if err != nil {
		listener.Close()
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
