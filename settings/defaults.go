package settings

import (
	"github.com/spf13/viper"
)

// Default values referenced outside this package.
const (
	DefaultSuggestionDelayMS = 500
	DefaultRequestTimeoutMS  = 10000
	DefaultRuntimePath       = "default"
	DefaultChatBaseURL       = "https://api.githubcopilot.com"
	DefaultChatModel         = "gpt-4o"

	// DefaultDirPermissions for ~/.ghostline
	DefaultDirPermissions = 0750
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("suggestion_delay_ms", DefaultSuggestionDelayMS)
	v.SetDefault("only_on_hotkey", false)
	v.SetDefault("only_in_code_block", false)
	v.SetDefault("exclude", []string{})
	v.SetDefault("debug", false)

	v.SetDefault("agent.runtime_path", DefaultRuntimePath)
	v.SetDefault("agent.script_path", "")
	v.SetDefault("agent.args", "")
	v.SetDefault("agent.request_timeout_ms", DefaultRequestTimeoutMS)

	v.SetDefault("hotkeys.accept", "Tab")
	v.SetDefault("hotkeys.cancel", "Escape")
	v.SetDefault("hotkeys.request", "Cmd-Shift-/")
	v.SetDefault("hotkeys.partial_accept", "Cmd-Shift-.")
	v.SetDefault("hotkeys.next", "Cmd-Shift-ArrowDown")
	v.SetDefault("hotkeys.toggle", "Cmd-Shift-ArrowRight")

	v.SetDefault("device_specific.enabled", false)
	v.SetDefault("device_specific.keys", []string{"agent.runtime_path"})

	v.SetDefault("chat.model", DefaultChatModel)
	v.SetDefault("chat.base_url", DefaultChatBaseURL)
	v.SetDefault("chat.system_prompt", "You are a helpful assistant embedded in a note-taking editor. Answer concisely in Markdown.")
	v.SetDefault("chat.history_path", "")

	v.SetDefault("formatting.tab_size", 4)
	v.SetDefault("formatting.indent_size", 4)
	v.SetDefault("formatting.insert_spaces", false)
}

// Default returns the built-in settings with nothing layered on top.
func Default() *Settings {
	v := viper.New()
	SetDefaults(v)
	s, err := LoadWithViper(v)
	if err != nil {
		// Defaults always unmarshal; reaching this is a programming error.
		panic(err)
	}
	return s
}
