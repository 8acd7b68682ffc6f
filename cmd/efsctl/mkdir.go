package main

import (
	"github.com/spf13/cobra"

	encryptedfs "github.com/matrixai/go-encryptedfs"
)

var mkdirRecursive bool
var mkdirMode uint32

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		efs, err := openFS()
		if err != nil {
			return err
		}
		defer efs.Close()

		return efs.Mkdir(args[0], encryptedfs.MkdirOptions{
			Mode:      mkdirMode,
			Recursive: mkdirRecursive,
		})
	},
}

func init() {
	mkdirCmd.Flags().BoolVarP(&mkdirRecursive, "parents", "p", false, "create intermediate directories as needed")
	mkdirCmd.Flags().Uint32Var(&mkdirMode, "mode", 0o755, "permission bits for the new directory")
	rootCmd.AddCommand(mkdirCmd)
}
