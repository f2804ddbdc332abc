package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CredentialsChanged is set when either upstream key differs. The proxy
	// applies new keys without a restart.
	CredentialsChanged bool

	// RestartRequired lists settings that changed but only take effect after
	// a restart (listener, TLS, static files, provider selection).
	RestartRequired []string
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CredentialsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Upstream.Anthropic.APIKey != new.Upstream.Anthropic.APIKey ||
		old.Upstream.ElevenLabs.APIKey != new.Upstream.ElevenLabs.APIKey {
		d.CredentialsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.StaticDir != new.Server.StaticDir {
		d.RestartRequired = append(d.RestartRequired, "server.static_dir")
	}
	if !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Upstream.Anthropic.BaseURL != new.Upstream.Anthropic.BaseURL ||
		old.Upstream.ElevenLabs.BaseURL != new.Upstream.ElevenLabs.BaseURL ||
		old.Upstream.ElevenLabs.DefaultVoiceID != new.Upstream.ElevenLabs.DefaultVoiceID {
		d.RestartRequired = append(d.RestartRequired, "upstream")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
