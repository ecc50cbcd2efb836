package config

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else that
// changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	EchoChanged bool
	NewEcho     bool

	RecordChanged bool
	NewRecord     bool

	// JitterChanged is set when the playback jitter queue or priming depth
	// changed. New values apply to sessions started afterwards.
	JitterChanged     bool
	NewJitterCapacity int
	NewPrimeFrames    int

	// RestartRequired names changed fields that only take effect after a
	// restart (e.g. "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EchoChanged || d.RecordChanged || d.JitterChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.Echo != new.Server.Echo {
		d.EchoChanged = true
		d.NewEcho = new.Server.Echo
	}
	if old.Server.Record != new.Server.Record {
		d.RecordChanged = true
		d.NewRecord = new.Server.Record
	}
	if old.Audio.JitterCapacity != new.Audio.JitterCapacity || old.Audio.PrimeFrames != new.Audio.PrimeFrames {
		d.JitterChanged = true
		d.NewJitterCapacity = new.Audio.JitterCapacity
		d.NewPrimeFrames = new.Audio.PrimeFrames
	}

	restart := func(changed bool, field string) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart(old.Server.ListenAddr != new.Server.ListenAddr, "server.listen_addr")
	restart(old.Server.LogFormat != new.Server.LogFormat, "server.log_format")
	restart(!sameTLS(old.Server.TLS, new.Server.TLS), "server.tls")
	restart(old.Audio.SampleRate != new.Audio.SampleRate, "audio.sample_rate")
	restart(old.Audio.FrameSamples != new.Audio.FrameSamples, "audio.frame_samples")
	restart(old.Audio.CaptureQueue != new.Audio.CaptureQueue, "audio.capture_queue")
	restart(old.Audio.FramePool != new.Audio.FramePool, "audio.frame_pool")
	restart(old.Transport != new.Transport, "transport")
	restart(old.Recording.Store != new.Recording.Store, "recording.store")
	restart(old.Recording.PostgresDSN != new.Recording.PostgresDSN, "recording.postgres_dsn")
	restart(old.Recording.ChunkFrames != new.Recording.ChunkFrames, "recording.chunk_frames")
	restart(old.Recording.Queue != new.Recording.Queue, "recording.queue")
	restart(old.Recording.OutputDir != new.Recording.OutputDir, "recording.output_dir")

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
