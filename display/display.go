// Package display holds the CLI's machine-readable output helpers.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teranos/ghostline/errors"
)

// JSONEnv forces JSON output for every command that supports it.
const JSONEnv = "GHOSTLINE_JSON"

// ShouldOutputJSON determines if a command should output JSON: its own
// --json flag wins, then a persistent --json on the root, then JSONEnv.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return envJSON()
	}

	if cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	if f := cmd.Root().PersistentFlags().Lookup("json"); f != nil && f.Changed {
		globalFlag, _ := strconv.ParseBool(f.Value.String())
		return globalFlag
	}

	return envJSON()
}

func envJSON() bool {
	on, _ := strconv.ParseBool(os.Getenv(JSONEnv))
	return on
}

// MarshalJSON marshals v with two-space indentation.
func MarshalJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// WriteJSON marshals v and writes it to w followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
