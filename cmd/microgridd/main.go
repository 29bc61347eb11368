package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/awaistahir/microgrid/internal/config"
	"github.com/awaistahir/microgrid/internal/logging"
	"github.com/awaistahir/microgrid/internal/metrics"
	"github.com/awaistahir/microgrid/internal/simulation"
	"github.com/awaistahir/microgrid/internal/store"
	"github.com/awaistahir/microgrid/internal/uiapi"
)

func main() {
	var cfgFile, dbPath string
	var port int

	rootCmd := &cobra.Command{
		Use:          "microgridd",
		Short:        "microgrid HTTP server and simulation loops",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if dbPath != "" {
				v.Set("db_path", dbPath)
			}
			if cmd.Flags().Changed("port") {
				v.Set("http.port", port)
			}
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}

			log, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.microgrid/config.yaml)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "database path")
	rootCmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := store.Open(cfg, log.Named("store"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	m := metrics.New()
	sim, err := simulation.Open(ctx, simulation.Options{
		Config:  cfg,
		Store:   st,
		Logger:  log.Named("simulation"),
		Metrics: m,
	})
	if err != nil {
		return err
	}

	srv := uiapi.NewServer(sim, m, cfg.Plant.ReserveThreshold, log.Named("http"))
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("microgrid server starting",
		zap.Int("port", cfg.HTTP.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("houses", len(sim.Snapshot().Houses)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sim.Run(ctx) })
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("microgrid server stopped")
	return err
}
