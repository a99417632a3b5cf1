package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gauss-stream/gauss/internal/registry"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect the built-in plugin registry",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every built-in storage, format, and converter plugin",
	RunE:  runPluginsList,
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	AddCommand(pluginsCmd)
}

// builtinNames lists the plugin names this build ships under each kind.
// Kept here as a flat list rather than probing a live registry: several
// built-ins (table, columnar) require config an empty probe load can't
// supply, so "does it load" isn't a reliable presence test.
var builtinNames = map[registry.Kind][]string{
	registry.KindStorage:   {"ring", "table", "file", "columnar"},
	registry.KindFormat:    {"jsonline", "lenproto"},
	registry.KindConverter: {"passthrough", "decimal-rescale", "unix-millis-to-timestamp", "pg-numeric-to-ch-decimal"},
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	for _, kind := range []registry.Kind{registry.KindStorage, registry.KindFormat, registry.KindConverter} {
		fmt.Printf("%s:\n", kind)
		for _, name := range builtinNames[kind] {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}
