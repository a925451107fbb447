// Command kewveos hosts the kernel on top of a regular operating system:
// it synthesizes the boot handoff, boots the kernel and drives it with
// simulated timer and keyboard interrupts.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kewveos",
		Short:         "KewveOS hosted kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (default is ./kewveos.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	mustBind(viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config")))
	mustBind(viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level")))

	cmd.AddCommand(newBootCmd(), newVersionCmd())
	return cmd
}

// mustBind panics on flag-binding errors; a mistyped flag name is a
// programming error caught the first time the command is constructed.
func mustBind(err error) {
	if err != nil {
		panic(err)
	}
}

// loadConfig reads the optional config file named by the config flag or
// the default search path. A missing default file is not an error.
func loadConfig() error {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		return viper.ReadInConfig()
	}

	viper.SetConfigName("kewveos")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}
