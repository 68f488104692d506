// vlabweb serves the VLAB observability API: live board status, usage
// statistics from the access log, prometheus metrics, and the reload
// and hardware-test triggers.
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

	"github.com/RTSYork/VLAB/pkg/accesslog"
	"github.com/RTSYork/VLAB/pkg/config"
	"github.com/RTSYork/VLAB/pkg/lease"
	"github.com/RTSYork/VLAB/pkg/store"
	"github.com/RTSYork/VLAB/pkg/util"
	"github.com/RTSYork/VLAB/pkg/version"
	"github.com/RTSYork/VLAB/pkg/web"
)

const defaultConfigPath = "/vlab/web.yaml"

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	var (
		configPath string
		listen     string
	)

	rootCmd := &cobra.Command{
		Use:           "vlabweb",
		Short:         "VLAB observability API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, listen)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "Service config file")
	rootCmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides the config file)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vlabweb %s\n", version.Info())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(configPath, listen string) error {
	cfg, err := config.LoadWebConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.ConnectWithRetry(ctx, cfg.Store.Addr, store.DialAttempts, store.DialDelay)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := web.New(lease.New(s), accesslog.NewParser(cfg.AccessLog))
	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		util.Infof("Serving on %s.", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	util.Infof("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
