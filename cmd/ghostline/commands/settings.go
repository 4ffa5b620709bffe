package commands

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/ghostline/display"
	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/settings"
)

// SettingsCmd groups the settings subcommands
var SettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show, locate and validate settings",
	Long: `Inspect the ghostline settings.

Settings sources (later wins):
1. Built-in defaults
2. User file (~/.ghostline/config.toml)
3. Project file (./ghostline.toml, searched upwards)
4. Environment variables (GHOSTLINE_* prefix, "." becomes "_")
5. Device override (device-<hostname>.toml) for device_specific.keys

--config replaces 2-4 with a single file.`,
	Example: `  ghostline settings show
  ghostline settings show --format json
  GHOSTLINE_SUGGESTION_DELAY_MS=250 ghostline settings validate`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show where settings are read and written",
	Args:  cobra.NoArgs,
	RunE:  runSettingsPath,
}

var settingsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsValidate,
}

var settingsFormat string

func init() {
	settingsShowCmd.Flags().StringVar(&settingsFormat, "format", "toml", "Output format: toml, json, yaml")

	SettingsCmd.AddCommand(settingsShowCmd)
	SettingsCmd.AddCommand(settingsPathCmd)
	SettingsCmd.AddCommand(settingsValidateCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	s, err := settingsStore(cmd).Load()
	if err != nil {
		return errors.Wrap(err, "failed to load settings")
	}
	out := cmd.OutOrStdout()

	format := settingsFormat
	if !cmd.Flags().Changed("format") && display.ShouldOutputJSON(cmd) {
		format = "json"
	}

	switch format {
	case "json":
		return display.WriteJSON(out, s)

	case "yaml":
		data, err := yaml.Marshal(s)
		if err != nil {
			return errors.Wrap(err, "failed to marshal settings to YAML")
		}
		fmt.Fprintf(out, "# ghostline settings\n%s", data)

	case "toml":
		data, err := toml.Marshal(s)
		if err != nil {
			return errors.Wrap(err, "failed to marshal settings to TOML")
		}
		fmt.Fprintf(out, "# ghostline settings\n%s", data)

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

func runSettingsPath(cmd *cobra.Command, args []string) error {
	store := settingsStore(cmd)
	out := cmd.OutOrStdout()

	file := store.File()
	fmt.Fprintf(out, "Settings: %s%s\n", file, existsMark(file))
	device := settings.DevicePath(file)
	fmt.Fprintf(out, "Device:   %s%s\n", device, existsMark(device))
	fmt.Fprintf(out, "Config dir: %s\n", settings.Dir())
	return nil
}

func existsMark(path string) string {
	if _, err := os.Stat(path); err != nil {
		return pterm.Gray(" (missing)")
	}
	return ""
}

func runSettingsValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadSettings(cmd); err != nil {
		return err
	}
	pterm.Success.WithWriter(cmd.OutOrStdout()).Println("Settings are valid")
	return nil
}
