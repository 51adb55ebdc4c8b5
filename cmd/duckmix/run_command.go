package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"

	"github.com/liuscraft/orion-duck/internal/audio"
	"github.com/liuscraft/orion-duck/internal/config"
	"github.com/liuscraft/orion-duck/internal/logging"
	"github.com/liuscraft/orion-duck/internal/session"
	"github.com/liuscraft/orion-duck/internal/speech"
	"github.com/liuscraft/orion-duck/internal/surface/local"
	"github.com/liuscraft/orion-duck/internal/surface/remote"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var noLocal bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the mixer and serve the player bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()
			return runMixer(cmd.Context(), cfg, !noLocal)
		},
	}
	cmd.Flags().BoolVar(&noLocal, "no-local", false, "Leave the music channel to a player page instead of local playback")
	return cmd
}

func runMixer(parent context.Context, cfg *config.AppConfig, withLocal bool) error {
	if parent == nil {
		parent = context.Background()
	}

	logging.Infof("========================================")
	logging.Infof("        DuckMix Starting...            ")
	logging.Infof("========================================")

	speechSource := strings.ToLower(strings.TrimSpace(cfg.Speech.Source))
	needAudio := withLocal || speechSource == "microphone"
	if needAudio {
		logging.Infof("Initializing PortAudio...")
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
		defer portaudio.Terminate()
	}

	clk := clock.New()
	mixer := audio.NewMixer(cfg.MixerOptions(), clk)
	hub := remote.NewHub(cfg.HubOptions())

	opts := session.Options{
		Mixer:       mixer,
		Hub:         hub,
		Clock:       clk,
		StatusEvery: cfg.StatusInterval(),
	}

	if withLocal {
		player, err := newLocalPlayer(cfg)
		if err != nil {
			return err
		}
		opts.Player = player
	}

	if speechSource == "microphone" {
		mic, err := speech.NewMicrophoneSource(speech.MicrophoneConfig{
			SampleRate:  cfg.Speech.SampleRate,
			Channels:    1,
			FrameSize:   cfg.Speech.FrameSize,
			HighLatency: cfg.Speech.HighLatency,
			Device:      cfg.Speech.Device,
		})
		if err != nil {
			return fmt.Errorf("open microphone: %w", err)
		}
		opts.Detector = speech.NewDetector(speech.DetectorConfig{
			Threshold: cfg.Speech.Threshold,
			Hangover:  cfg.SpeechHangover(),
		}, mic, clk)
	}

	sess, err := session.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, hub)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sess.Snapshot())
	})

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logging.Infof("Server: listening on %s (bridge %s)", cfg.Server.Listen, cfg.Server.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logging.Infof("DuckMix is running. Press Ctrl+C to exit.")

	var runErr error
	select {
	case <-ctx.Done():
		logging.Infof("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warnf("Server: shutdown: %v", err)
	}
	if err := sess.Stop(); err != nil {
		logging.Warnf("Session: stop: %v", err)
	}
	logging.Infof("DuckMix stopped")
	return runErr
}

// newLocalPlayer 加载配置里的音乐文件，未配置时播放测试音
func newLocalPlayer(cfg *config.AppConfig) (*local.Player, error) {
	player := local.NewPlayer(local.Config{
		SampleRate:      cfg.Local.SampleRate,
		FramesPerBuffer: cfg.Local.FramesPerBuffer,
		Loop:            cfg.Local.Loop,
	})
	player.OnEnded(func() {
		logging.Infof("LocalPlayer: %s finished", player.Name())
	})

	if file := strings.TrimSpace(cfg.Local.MusicFile); file != "" {
		if err := player.Load(file); err != nil {
			return nil, fmt.Errorf("load music file: %w", err)
		}
		return player, nil
	}

	tone, format, err := local.Tone(cfg.Local.SampleRate, cfg.Local.ToneHz, cfg.Local.ToneLevel)
	if err != nil {
		return nil, fmt.Errorf("build test tone: %w", err)
	}
	player.LoadStreamer(fmt.Sprintf("tone %.0fHz", cfg.Local.ToneHz), tone, format)
	return player, nil
}
