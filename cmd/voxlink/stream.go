package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxlink/internal/app"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/pkg/recording"
)

func newStreamCmd(g *globals) *cobra.Command {
	var (
		address       string
		recordingID   string
		out           string
		noRecord      bool
		levelInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream the microphone to a relay and play back what it sends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if address == "" {
				address = cfg.Transport.Address
			}
			if address == "" {
				return fmt.Errorf("no relay address: pass --address or set transport.address")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceVersion: getVersion(),
				Role:           observe.RoleClient,
				SampleRate:     cfg.Audio.SampleRate,
			})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownOTel(sctx); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			var store recording.Store
			if !noRecord {
				s, release, err := app.OpenStore(ctx, cfg.Recording)
				if err != nil {
					return err
				}
				defer release()
				store = s
			}

			sm := app.NewSessionManager(app.SessionManagerConfig{Config: cfg, Store: store})
			info, err := sm.Start(ctx, address, recordingID)
			if err != nil {
				return err
			}

			if levelInterval <= 0 {
				levelInterval = 2 * time.Second
			}
			ticker := time.NewTicker(levelInterval)
			defer ticker.Stop()
		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-sm.Done():
					break loop
				case <-ticker.C:
					if st, ok := sm.Stats(); ok {
						slog.Info("levels",
							"input_rms", fmt.Sprintf("%.1f", st.InputLevel.RMS),
							"input_peak", fmt.Sprintf("%.1f", st.InputLevel.Peak),
							"output_rms", fmt.Sprintf("%.1f", st.OutputLevel.RMS),
							"state", st.Transport.State,
							"queued", st.Playback.Queued,
						)
					}
				}
			}

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_, runErr := sm.Stop(sctx)

			if store != nil && out == "" && cfg.Recording.OutputDir != "" {
				out = filepath.Join(cfg.Recording.OutputDir, info.RecordingID+".wav")
			}
			if store != nil && out != "" {
				n, err := recording.ExportFile(sctx, store, info.RecordingID, out, cfg.Audio.SampleRate)
				if err != nil {
					return err
				}
				slog.Info("recording exported", "path", out, "bytes", n, "recording_id", info.RecordingID)
			}
			return runErr
		},
	}
	f := cmd.Flags()
	f.StringVarP(&address, "address", "a", "", "relay endpoint (ws:// or wss://); overrides transport.address")
	f.StringVar(&recordingID, "recording-id", "", "name of the session recording (generated when empty)")
	f.StringVarP(&out, "out", "o", "", "write the session recording to this WAV file on exit")
	f.BoolVar(&noRecord, "no-record", false, "do not keep a recording of the session")
	f.DurationVar(&levelInterval, "level-interval", 2*time.Second, "how often to log input and output levels")
	return cmd
}
