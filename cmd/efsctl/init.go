package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matrixai/go-encryptedfs/internal/block"
)

var initGenerateKey bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new database, generating a master key with --generate-key if the --key-file path does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rootConfig.KeyFile == "" {
			return fmt.Errorf("--key-file is required")
		}

		if _, err := os.Stat(rootConfig.KeyFile); os.IsNotExist(err) {
			if !initGenerateKey {
				return fmt.Errorf("%s does not exist; pass --generate-key to create one", rootConfig.KeyFile)
			}
			key := make([]byte, block.KeyLen)
			if _, err := io.ReadFull(rand.Reader, key); err != nil {
				return fmt.Errorf("generating master key: %w", err)
			}
			if err := os.WriteFile(rootConfig.KeyFile, key, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", rootConfig.KeyFile, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote new master key to %s\n", rootConfig.KeyFile)
		}

		efs, err := openFS()
		if err != nil {
			return err
		}
		defer efs.Close()

		st, err := efs.Stat("/")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized %s (root ino=%d, mode=%o)\n", rootConfig.DBPath, st.Ino, st.Mode)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initGenerateKey, "generate-key", false, "generate a new master key at --key-file if it does not exist")
	rootCmd.AddCommand(initCmd)
}
