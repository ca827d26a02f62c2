package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmahmood233/localhost/internal/config"
	"github.com/mmahmood233/localhost/internal/logging"
	"github.com/mmahmood233/localhost/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load a configuration file and start accepting connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")

	return cmd
}

func runServe(configPath, logLevel string) error {
	log := logging.New(parseLogLevel(logLevel))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return err
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to start server")
		return err
	}

	// A buffered channel, not a goroutine pool: the signal handler's only
	// job is to flip Server's shutdown flag, which Run observes between
	// Wait calls (spec.md §9's single-goroutine-for-the-loop constraint).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")
		srv.Shutdown()
	}()

	log.WithField(logging.FieldListener, configPath).Info("serving")
	runErr := srv.Run()

	if closeErr := srv.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}
