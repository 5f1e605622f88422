package main

import (
	"os"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nuha.dev/trackee/internal/config"
)

var (
	v        *viper.Viper
	cfg_file string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v = config.New()
	root := &cobra.Command{
		Use:           "trackee",
		Short:         "Driver location reporting agent",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfg_file, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "trace, debug, info, warn or error")
	root.PersistentFlags().String("backend-url", "", "location report endpoint")
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("backend_url", root.PersistentFlags().Lookup("backend-url"))

	root.AddCommand(runCmd(), loginCmd(), logoutCmd(), reportOnceCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfg_file)
	if err != nil {
		return nil, err
	}
	config.ApplyLogLevel(cfg.LogLevel)
	return cfg, nil
}

func mainLogger() log.Logger {
	l := log.DefaultLogger
	l.Context = log.NewContext(nil).Str("module", "main").Value()
	return l
}
