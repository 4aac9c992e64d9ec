package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/audiostream/internal/adapters/console"
	router "github.com/dkeye/audiostream/internal/adapters/http"
	"github.com/dkeye/audiostream/internal/adapters/rtc"
	"github.com/dkeye/audiostream/internal/app"
	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/config"
	"github.com/dkeye/audiostream/internal/domain"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "audiostream",
	Short:         "Peer to peer audio over WebRTC with copy/paste signaling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP control page",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Drive a session from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsole(cmd.Context())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio inputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config/config.$CONFIG_ENV.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(devicesCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("audiostream failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Err(err).Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return cfg, nil
}

// newSession wires the audio backend, the peer factory and the controller.
func newSession(ctx context.Context, cfg *config.Config) (*app.Controller, func(), error) {
	backend, err := audio.NewBackend()
	if err != nil {
		return nil, nil, fmt.Errorf("audio backend: %w", err)
	}

	ctl := app.NewController(app.Options{
		Backend: backend,
		NewPeer: rtc.Factory(rtc.Config{
			ICEServers:      cfg.WebRTC.ICEServers,
			IncludeLoopback: cfg.WebRTC.IncludeLoopback,
			DisableMDNS:     cfg.WebRTC.DisableMDNS,
			GatherTimeout:   cfg.WebRTC.GatherTimeout,
			Bitrate:         cfg.Audio.Bitrate,
			Codecs:          backend,
		}),
		Filter: app.FilterParams{
			Frequency:   cfg.Filter.Frequency,
			Gain:        cfg.Filter.Gain,
			ShelfGainDB: cfg.Filter.ShelfGainDB,
		},
		InputDevice:  domain.DeviceID(cfg.Audio.InputDevice),
		OutputDevice: domain.DeviceID(cfg.Audio.OutputDevice),
		Policy:       app.SimplePolicy{},
	})
	ctl.Start(ctx)

	cleanup := func() {
		ctl.Close()
		if err := backend.Free(); err != nil {
			log.Warn().Err(err).Msg("free audio backend")
		}
	}
	return ctl, cleanup, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl, cleanup, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(ctx, cfg, ctl),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("AudioStream server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func runConsole(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl, cleanup, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	err = console.Run(ctx, os.Stdin, os.Stdout, ctl)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func listDevices(ctx context.Context) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	backend, err := audio.NewBackend()
	if err != nil {
		return fmt.Errorf("audio backend: %w", err)
	}
	defer backend.Free()

	ctl := app.NewController(app.Options{Backend: backend})
	defer ctl.Close()
	devs, err := ctl.EnumerateDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devs {
		mark := ""
		if d.IsDefault {
			mark = " (default)"
		}
		fmt.Printf("%s\t%s%s\n", d.ID, d.DisplayName(), mark)
	}
	return nil
}
