// Command voxlink streams microphone audio as raw PCM over WebSocket, plays
// back what the peer sends, and keeps a WAV-exportable recording of every
// session.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MrWong99/voxlink/internal/config"
)

var exampleUsage = strings.TrimSpace(`
  voxlink serve --config voxlink.yaml
  voxlink stream --address ws://localhost:8080/ws/main --out session.wav
  voxlink recordings list
  voxlink export 2f1c... --out take.wav
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	envFile    string
	logLevel   string

	// level is the process log level; config reloads adjust it.
	level slog.LevelVar
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd(&globals{})
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxlink: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "voxlink",
		Short:         "Real-time PCM audio streaming over WebSocket",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "voxlink.yaml", "path to the YAML configuration file")
	pf.StringVar(&g.envFile, "env-file", ".env", "file with VOXLINK_* variables to load")
	pf.StringVar(&g.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(g),
		newStreamCmd(g),
		newExportCmd(g),
		newRecordingsCmd(g),
	)
	return root
}

// loadConfig resolves the configuration for cmd: env file, then the config
// file (optional unless --config was given explicitly), then flag overrides.
// It also installs the process logger.
func (g *globals) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if err := config.LoadEnvFile(g.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(g.configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !changed["config"]:
		// No file at the default location: defaults plus environment.
		g.configPath = ""
		cfg, err = config.FromEnv()
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if changed["log-level"] {
		lvl := config.LogLevel(strings.ToLower(g.logLevel))
		if !lvl.IsValid() {
			return nil, fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", g.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}

	g.level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Server.LogFormat, &g.level))
	return cfg, nil
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
