package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/scriptcoach/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		return &config.Config{
			Server: config.ServerConfig{ListenAddr: ":3000", LogLevel: config.LogInfo},
			Upstream: config.UpstreamConfig{
				Anthropic:  config.AnthropicConfig{APIKey: "a1"},
				ElevenLabs: config.ElevenLabsConfig{APIKey: "e1"},
			},
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *config.Config)
		wantEmpty   bool
		wantLevel   bool
		wantCreds   bool
		wantRestart []string
	}{
		{
			name:      "identical",
			mutate:    func(*config.Config) {},
			wantEmpty: true,
		},
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: true,
		},
		{
			name:      "rotated anthropic key",
			mutate:    func(c *config.Config) { c.Upstream.Anthropic.APIKey = "a2" },
			wantCreds: true,
		},
		{
			name:      "rotated elevenlabs key",
			mutate:    func(c *config.Config) { c.Upstream.ElevenLabs.APIKey = "" },
			wantCreds: true,
		},
		{
			name:        "listener",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":8080" },
			wantRestart: []string{"server.listen_addr"},
		},
		{
			name: "tls and static dir",
			mutate: func(c *config.Config) {
				c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
				c.Server.StaticDir = "public"
			},
			wantRestart: []string{"server.static_dir", "server.tls"},
		},
		{
			name:        "upstream location",
			mutate:      func(c *config.Config) { c.Upstream.Anthropic.BaseURL = "http://mirror" },
			wantRestart: []string{"upstream"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, next := base(), base()
			tc.mutate(next)

			d := config.Diff(old, next)
			if d.Empty() != tc.wantEmpty {
				t.Errorf("Empty() = %v, want %v", d.Empty(), tc.wantEmpty)
			}
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if tc.wantLevel && d.NewLogLevel != next.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.CredentialsChanged != tc.wantCreds {
				t.Errorf("CredentialsChanged = %v, want %v", d.CredentialsChanged, tc.wantCreds)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
