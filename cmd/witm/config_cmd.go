package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/witmigrate/witmigrate/internal/config"
	"github.com/witmigrate/witmigrate/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings with secrets masked",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := config.Load()
		if err != nil {
			FatalError("%v", err)
		}
		rows := settings.Redacted()

		if jsonOutput {
			out := make(map[string]string, len(rows))
			for _, row := range rows {
				out[row[0]] = row[1]
			}
			outputJSON(out)
			return
		}

		if file := config.ConfigFileUsed(); file != "" {
			fmt.Println(ui.RenderMuted("# " + file))
		}
		for _, row := range rows {
			fmt.Printf("%-24s %s\n", row[0], row[1])
		}
		if err := settings.Validate(); err != nil {
			fmt.Println()
			fmt.Println(ui.RenderWarn(err.Error()))
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
