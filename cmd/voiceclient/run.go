package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/voiceclient/internal/adapters/http"
	"github.com/dkeye/voiceclient/internal/adapters/rtc"
	sfusignal "github.com/dkeye/voiceclient/internal/adapters/signal"
	"github.com/dkeye/voiceclient/internal/app"
	"github.com/dkeye/voiceclient/internal/app/audio"
	"github.com/dkeye/voiceclient/internal/app/orch"
	"github.com/dkeye/voiceclient/internal/app/stats"
	"github.com/dkeye/voiceclient/internal/config"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

var flagChannel string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the SFU and serve the control API",
	Long: `Connect to the SFU signaling server and serve the local control API.

Examples:
  voiceclient run
  voiceclient run --channel general
  voiceclient run -c config/config.prod.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg.Level())
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx, cfg, domain.ChannelID(flagChannel))
	},
}

func init() {
	runCmd.Flags().StringVar(&flagChannel, "channel", "", "voice channel to join on start")
}

func run(ctx context.Context, cfg *config.Config, channel domain.ChannelID) error {
	client, err := sfusignal.Dial(ctx, cfg.Signal)
	if err != nil {
		return fmt.Errorf("connect signaling: %w", err)
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	devices := audio.NewSyntheticDevices(true)
	mic := audio.NewMic(devices, audio.NewBridge(cfg.Bridge()), cfg.Audio.Format())
	aggregator := stats.NewAggregator(cfg.Stats, stats.NewMetrics(reg))
	controls := app.NewControlRegistry()
	relays := app.NewRelayFactory(cfg.Audio.RecordDir, app.SimplePolicy{})

	o := orch.New(client, rtc.NewEngine(cfg.ICE), mic, aggregator, controls, orch.Config{Microphone: cfg.Audio.Device})
	o.Sinks = relays
	o.OnStatusChange(func(s core.Status) {
		log.Info().Str("module", "main").Str("status", string(s)).Msg("voice status")
	})

	voice := orch.NewVoice(o, client, domain.NewLocalParticipant(cfg.Name))

	r := router.SetupRouter(cfg.Mode, router.Deps{
		Voice:    voice,
		Controls: controls,
		Devices:  devices,
		Relays:   relays,
		Gatherer: reg,
	})
	addr := fmt.Sprintf(":%d", cfg.Control.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return voice.Run(gctx, client.Events())
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-client.Done():
			log.Warn().Str("module", "main").Msg("signaling connection closed")
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(gctx), config.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("control API forced to shutdown")
		}
		return nil
	})

	if channel != "" {
		if err := voice.Join(ctx, channel); err != nil {
			log.Error().Err(err).Str("channel", string(channel)).Msg("initial join failed")
		}
	}

	err = g.Wait()
	log.Info().Msg("voiceclient exited gracefully")
	return err
}
