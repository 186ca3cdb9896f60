package cmd

import (
	color "git.handmade.network/hmn/sqlrt/src/ansicolor"
	"git.handmade.network/hmn/sqlrt/src/config"
	"git.handmade.network/hmn/sqlrt/src/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	noColor    bool
)

// Other packages attach their subcommands to this in init.
var RootCommand = &cobra.Command{
	Use:           "sqlrt",
	Short:         "Tools for applications built on generated SQL accessors",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(configPath); err != nil {
			return err
		}
		logging.SetLevel(config.Config.LogLevel)
		if noColor {
			color.Disable()
		}
		logging.Debug().Str("config", configPath).Msg("Loaded config")
		return nil
	},
}

func init() {
	RootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Config file to load (default: ./sqlrt.yaml, if present)")
	RootCommand.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")
}
