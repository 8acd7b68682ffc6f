package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// config bundles the flags every subcommand needs to open a database. It is
// unmarshalled by viper from flags, environment variables (EFSCTL_ prefix),
// and optionally a config file, following the cfgFile / MountConfig split
// gcsfuse's cmd/root.go uses.
type config struct {
	DBPath  string `mapstructure:"db"`
	KeyFile string `mapstructure:"key-file"`
	Umask   uint32 `mapstructure:"umask"`
}

var (
	cfgFile    string
	bindErr    error
	cfgUnmErr  error
	rootConfig config
)

func bindPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	cmd.PersistentFlags().String("db", "", "path to the bbolt database file")
	cmd.PersistentFlags().String("key-file", "", "path to the file holding the master encryption key")
	cmd.PersistentFlags().Uint32("umask", 0o022, "umask applied to newly created inodes")

	bindErr = viper.BindPFlag("db", cmd.PersistentFlags().Lookup("db"))
	if bindErr != nil {
		return
	}
	bindErr = viper.BindPFlag("key-file", cmd.PersistentFlags().Lookup("key-file"))
	if bindErr != nil {
		return
	}
	bindErr = viper.BindPFlag("umask", cmd.PersistentFlags().Lookup("umask"))
}

func initConfig() {
	viper.SetEnvPrefix("EFSCTL")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			cfgUnmErr = err
			return
		}
	}
	cfgUnmErr = viper.Unmarshal(&rootConfig)
}

// loadMasterKey reads the raw contents of the configured key file. The key
// is used exactly as stored; key derivation and stretching happen once per
// block inside internal/block, not here.
func loadMasterKey() ([]byte, error) {
	if rootConfig.KeyFile == "" {
		return nil, fmt.Errorf("--key-file is required")
	}
	return os.ReadFile(rootConfig.KeyFile)
}
