package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	encryptedfs "github.com/matrixai/go-encryptedfs"
)

var rootCmd = &cobra.Command{
	Use:   "efsctl",
	Short: "Inspect and manipulate an encryptedfs database",
	Long: `efsctl is a debug and inspection tool for an encryptedfs database.
It is not a mount driver: it opens the database directly and exercises the
library's facade one call at a time, closing the database again on exit.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if cfgUnmErr != nil {
			return cfgUnmErr
		}
		if rootConfig.DBPath == "" {
			return fmt.Errorf("--db is required")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	bindPersistentFlags(rootCmd)
}

// Execute runs the CLI, exiting non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openFS opens the database named by --db using the key loaded from
// --key-file, shared by every subcommand.
func openFS() (*encryptedfs.EFS, error) {
	key, err := loadMasterKey()
	if err != nil {
		return nil, err
	}
	return encryptedfs.New(encryptedfs.Options{
		DBPath:    rootConfig.DBPath,
		MasterKey: key,
		Umask:     rootConfig.Umask,
	})
}
