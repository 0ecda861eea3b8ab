package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/Viewer/internal/adapters/http"
	"github.com/dkeye/Viewer/internal/adapters/photos"
	"github.com/dkeye/Viewer/internal/adapters/rtc"
	signaling "github.com/dkeye/Viewer/internal/adapters/signal"
	"github.com/dkeye/Viewer/internal/app/events"
	"github.com/dkeye/Viewer/internal/app/negotiate"
	"github.com/dkeye/Viewer/internal/app/session"
	"github.com/dkeye/Viewer/internal/app/tracks"
	"github.com/dkeye/Viewer/internal/config"
	"github.com/dkeye/Viewer/internal/domain"
)

func main() {
	var (
		configPath string
		connect    []string
	)
	cmd := &cobra.Command{
		Use:          "viewer",
		Short:        "Watch a producer's live and test video over WebRTC",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, connect)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	cmd.Flags().StringSliceVar(&connect, "connect", nil, "variants to connect at start (live, test)")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, connect []string) error {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	} else if err != nil {
		log.Warn().Err(err).Str("log_level", cfg.LogLevel).Msg("bad log level, keeping info")
	}

	mode, err := negotiate.ParseMode(cfg.NegotiationMode)
	if err != nil {
		return err
	}

	hub := events.NewHub(events.SimplePolicy{})
	factory, err := rtc.NewFactory(rtc.DefaultWebRTCConfig(cfg.ICEServers))
	if err != nil {
		return fmt.Errorf("webrtc factory: %w", err)
	}
	signaler := signaling.NewClient(cfg.SignalingURL, cfg.SignalingPath, nil)
	trackRouter := tracks.NewRouter(tracks.NewSinkSet(), tracks.CodecConstraints{MimeTypes: cfg.AllowedCodecs}, hub)

	manager := session.NewManager(factory, signaler, trackRouter, hub, session.Options{
		Negotiation: negotiate.Options{
			Mode:           mode,
			PatchSDP:       cfg.SDPPatch,
			MaxBitrate:     cfg.MaxBitrate,
			Channel:        cfg.Channel,
			VideoTransform: cfg.VideoTransform,
		},
		ChannelLabel:  cfg.ChannelLabel,
		ProbeInterval: cfg.ProbeInterval,
		TeardownGrace: cfg.TeardownGrace,
	})

	poller := photos.NewPoller(cfg.SignalingURL, cfg.PhotoPath, cfg.PhotoPollInterval, nil, hub)
	go poller.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: router.SetupRouter(ctx, cfg, manager, hub),
	}
	go func() {
		log.Info().Str("addr", cfg.Listen).Str("signaling", signaler.URL()).Msg("Viewer started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	for _, name := range append(cfg.AutoConnect, connect...) {
		variant, err := domain.ParseVariant(name)
		if err != nil {
			log.Warn().Err(err).Msg("skipping auto connect")
			continue
		}
		if _, err := manager.Connect(variant); err != nil {
			log.Error().Err(err).Str("variant", name).Msg("auto connect failed")
		}
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	manager.Close()
	log.Info().Msg("Viewer exited gracefully")
	return nil
}
