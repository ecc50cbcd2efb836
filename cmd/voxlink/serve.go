package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxlink/internal/app"
	"github.com/MrWong99/voxlink/internal/observe"
)

// shutdownTimeout bounds the graceful shutdown of every command.
const shutdownTimeout = 15 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	var (
		listen string
		echo   bool
		record bool
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: "Run the WebSocket relay. Peers connect to /ws/{room}; binary PCM frames are\n" +
			"forwarded to the other peers of the room and optionally recorded.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Server.ListenAddr = listen
			}
			if flags.Changed("echo") {
				cfg.Server.Echo = echo
			}
			if flags.Changed("record") {
				cfg.Server.Record = record
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceVersion: getVersion(),
				Role:           observe.RoleRelay,
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

			opts := []app.Option{app.WithLevelVar(&g.level)}
			if watch && g.configPath != "" {
				opts = append(opts, app.WithConfigWatch(g.configPath))
			}
			application, err := app.New(ctx, cfg, opts...)
			if err != nil {
				return err
			}

			slog.Info("voxlink starting",
				"config", g.configPath,
				"listen_addr", cfg.Server.ListenAddr,
				"log_level", cfg.Server.LogLevel,
			)
			runErr := application.Run(ctx)

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			slog.Info("stopping relay")
			if err := application.Shutdown(sctx); err != nil {
				slog.Error("shutdown error", "err", err)
			}
			if runErr != nil {
				return runErr
			}
			slog.Info("goodbye")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&listen, "listen", "", "override server.listen_addr")
	f.BoolVar(&echo, "echo", false, "send a lone peer's audio back to it")
	f.BoolVar(&record, "record", false, "record every peer's inbound audio")
	f.BoolVar(&watch, "watch", true, "reload the config file on change")
	return cmd
}
