package main

import (
	"context"
	"net/http"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/config"
	"github.com/json420/dmedia/mediastore/handler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the store over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		r := mux.NewRouter()
		handler.SetupHandlers(r, store)
		config.WatchConfig()

		address := ":" + strconv.Itoa(config.Configuration.Port)
		var server *http.Server

		if config.Development() {
			// No WriteTimeout setup to enable pprof
			server = &http.Server{
				Addr:              address,
				ReadHeaderTimeout: config.Configuration.ReadTimeout,
				MaxHeaderBytes:    1 << 20,
				Handler:           r,
			}
		} else {
			server = &http.Server{
				Addr:              address,
				ReadHeaderTimeout: config.Configuration.ReadTimeout,
				IdleTimeout:       config.Configuration.IdleTimeout,
				MaxHeaderBytes:    1 << 20,
				Handler:           r,
			}
		}

		logging.Logger.Info("Starting server",
			zap.Int("available_cpus", runtime.NumCPU()),
			zap.String("address", address),
			zap.String("store_id", store.ID()))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.ListenAndServe() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logging.Logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
