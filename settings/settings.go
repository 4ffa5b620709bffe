// Package settings holds the plugin configuration: completion behaviour,
// hotkeys, agent location and chat options.
//
// Settings are layered the usual way: built-in defaults, then the user file
// (~/.ghostline/config.toml), then a project ghostline.toml, then GHOSTLINE_*
// environment variables. When device-specific settings are enabled, the keys
// listed in device_specific.keys come from a per-host override file instead.
package settings

import (
	"slices"
	"time"
)

// Settings is the full plugin configuration.
type Settings struct {
	Enabled           bool     `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	SuggestionDelayMS int      `mapstructure:"suggestion_delay_ms" toml:"suggestion_delay_ms" json:"suggestion_delay_ms" yaml:"suggestion_delay_ms"`
	OnlyOnHotkey      bool     `mapstructure:"only_on_hotkey" toml:"only_on_hotkey" json:"only_on_hotkey" yaml:"only_on_hotkey"`
	OnlyInCodeBlock   bool     `mapstructure:"only_in_code_block" toml:"only_in_code_block" json:"only_in_code_block" yaml:"only_in_code_block"`
	Exclude           []string `mapstructure:"exclude" toml:"exclude" json:"exclude" yaml:"exclude"`
	Debug             bool     `mapstructure:"debug" toml:"debug" json:"debug" yaml:"debug"`

	Agent          AgentSettings          `mapstructure:"agent" toml:"agent" json:"agent" yaml:"agent"`
	Hotkeys        Hotkeys                `mapstructure:"hotkeys" toml:"hotkeys" json:"hotkeys" yaml:"hotkeys"`
	DeviceSpecific DeviceSpecificSettings `mapstructure:"device_specific" toml:"device_specific" json:"device_specific" yaml:"device_specific"`
	Chat           ChatSettings           `mapstructure:"chat" toml:"chat" json:"chat" yaml:"chat"`
	Formatting     FormattingSettings     `mapstructure:"formatting" toml:"formatting" json:"formatting" yaml:"formatting"`
}

// AgentSettings locates the completion agent and its runtime.
type AgentSettings struct {
	RuntimePath      string `mapstructure:"runtime_path" toml:"runtime_path" json:"runtime_path" yaml:"runtime_path"` // "default" = node on PATH
	ScriptPath       string `mapstructure:"script_path" toml:"script_path" json:"script_path" yaml:"script_path"`
	Args             string `mapstructure:"args" toml:"args" json:"args" yaml:"args"` // shell-quoted extra args
	RequestTimeoutMS int    `mapstructure:"request_timeout_ms" toml:"request_timeout_ms" json:"request_timeout_ms" yaml:"request_timeout_ms"`
}

// Hotkeys binds each named action to one key chord.
type Hotkeys struct {
	Accept        string `mapstructure:"accept" toml:"accept" json:"accept" yaml:"accept"`
	Cancel        string `mapstructure:"cancel" toml:"cancel" json:"cancel" yaml:"cancel"`
	Request       string `mapstructure:"request" toml:"request" json:"request" yaml:"request"`
	PartialAccept string `mapstructure:"partial_accept" toml:"partial_accept" json:"partial_accept" yaml:"partial_accept"`
	Next          string `mapstructure:"next" toml:"next" json:"next" yaml:"next"`
	Toggle        string `mapstructure:"toggle" toml:"toggle" json:"toggle" yaml:"toggle"`
}

// DeviceSpecificSettings selects keys that live in the per-host override file.
type DeviceSpecificSettings struct {
	Enabled bool     `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	Keys    []string `mapstructure:"keys" toml:"keys" json:"keys" yaml:"keys"`
}

// ChatSettings configures the chat-completions backend.
type ChatSettings struct {
	Model        string `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	BaseURL      string `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	SystemPrompt string `mapstructure:"system_prompt" toml:"system_prompt" json:"system_prompt" yaml:"system_prompt"`
	HistoryPath  string `mapstructure:"history_path" toml:"history_path" json:"history_path" yaml:"history_path"` // "" = <config dir>/chat.db
}

// FormattingSettings is sent with every completion request.
type FormattingSettings struct {
	TabSize      int  `mapstructure:"tab_size" toml:"tab_size" json:"tab_size" yaml:"tab_size"`
	IndentSize   int  `mapstructure:"indent_size" toml:"indent_size" json:"indent_size" yaml:"indent_size"`
	InsertSpaces bool `mapstructure:"insert_spaces" toml:"insert_spaces" json:"insert_spaces" yaml:"insert_spaces"`
}

// SuggestionDelay is the debounce window for editor changes.
func (s *Settings) SuggestionDelay() time.Duration {
	return time.Duration(s.SuggestionDelayMS) * time.Millisecond
}

// RequestTimeout bounds each agent request.
func (a AgentSettings) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutMS) * time.Millisecond
}

// Clone returns a deep copy so observers can hold a snapshot safely.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	c := *s
	c.Exclude = slices.Clone(s.Exclude)
	c.DeviceSpecific.Keys = slices.Clone(s.DeviceSpecific.Keys)
	return &c
}
