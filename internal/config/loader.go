package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names. Used by [Validate] to warn
// about unrecognised names, which may be typos or third-party registrations.
var ValidProviderNames = []string{
	"realtime", "mock",
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.VADThreshold < 0 || cfg.Audio.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold %.3f is out of range [0, 1]", cfg.Audio.VADThreshold))
	}
	if cfg.Audio.BufferWindow < 0 {
		errs = append(errs, errors.New("audio.buffer_window must not be negative"))
	}

	// Conversation
	if cfg.Conversation.MaxMessages < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_messages %d must not be negative", cfg.Conversation.MaxMessages))
	}

	// Reconnect
	if cfg.Reconnect.BaseDelay < 0 {
		errs = append(errs, errors.New("reconnect.base_delay must not be negative"))
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", cfg.Reconnect.MaxAttempts))
	}

	// Plugins
	if p := cfg.Plugins.Translog; p != nil && p.Path == "" {
		errs = append(errs, errors.New("plugins.translog.path is required"))
	}
	if p := cfg.Plugins.Webhook; p != nil && p.URL == "" {
		errs = append(errs, errors.New("plugins.webhook.url is required"))
	}
	if p := cfg.Plugins.Notify; p != nil && p.URL == "" {
		errs = append(errs, errors.New("plugins.notify.url is required"))
	}
	if p := cfg.Plugins.LeadStore; p != nil && p.PostgresDSN == "" {
		errs = append(errs, errors.New("plugins.leadstore.postgres_dsn is required"))
	}

	return errors.Join(errs...)
}
