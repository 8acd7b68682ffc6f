package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	encryptedfs "github.com/matrixai/go-encryptedfs"
)

var rmRecursive bool

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a file, symlink, or (with -r) a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		efs, err := openFS()
		if err != nil {
			return err
		}
		defer efs.Close()

		path := args[0]
		st, err := efs.Lstat(path)
		if err != nil {
			return err
		}
		if isDirMode(st.Mode) {
			return efs.Rmdir(path, encryptedfs.RmdirOptions{Recursive: rmRecursive})
		}
		return efs.Unlink(path)
	},
}

func init() {
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "remove a directory and its contents")
	rootCmd.AddCommand(rmCmd)
}

func isDirMode(mode uint32) bool { return mode&unix.S_IFMT == unix.S_IFDIR }
