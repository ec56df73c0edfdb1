package config

// ConfigDiff describes what changed between two configs, split into changes
// that can be hot-applied and changes that need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is set when only the provider voice changed; it can be
	// hot-applied through the provider's SetVoice.
	VoiceChanged bool
	NewVoice     string

	AudioChanged        bool
	ConversationChanged bool
	LeadChanged         bool

	// RequiresRestart is set when the server address, TLS material, or the
	// provider identity (name, credentials, endpoint, model) changed.
	// Existing sessions cannot migrate across those.
	RequiresRestart bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Provider.Voice != new.Provider.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Provider.Voice
	}

	if old.Audio != new.Audio {
		d.AudioChanged = true
	}
	if !conversationEqual(old.Conversation, new.Conversation) {
		d.ConversationChanged = true
	}
	if old.Lead != new.Lead {
		d.LeadChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RequiresRestart = true
	}
	if providerIdentityChanged(old.Provider, new.Provider) {
		d.RequiresRestart = true
	}

	return d
}

// providerIdentityChanged reports whether the two entries select different
// provider instances, ignoring the hot-applicable voice field.
func providerIdentityChanged(old, new ProviderEntry) bool {
	return old.Name != new.Name ||
		old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL ||
		old.Model != new.Model ||
		old.Instructions != new.Instructions
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// conversationEqual compares field-wise; the silence timeout is a pointer and
// must be compared by value so a reload of an unchanged file stays a no-op.
func conversationEqual(a, b ConversationConfig) bool {
	return a.MaxMessages == b.MaxMessages &&
		a.MaxDuration == b.MaxDuration &&
		a.DisableMetadata == b.DisableMetadata &&
		durationPtrEqual(a.SilenceTimeout, b.SilenceTimeout)
}

func durationPtrEqual(a, b *Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
