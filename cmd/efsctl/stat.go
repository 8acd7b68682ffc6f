package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Print a path's stat record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		efs, err := openFS()
		if err != nil {
			return err
		}
		defer efs.Close()

		st, err := efs.Stat(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ino:       %d\n", st.Ino)
		fmt.Fprintf(out, "mode:      %o\n", st.Mode)
		fmt.Fprintf(out, "uid/gid:   %d/%d\n", st.UID, st.GID)
		fmt.Fprintf(out, "nlink:     %d\n", st.Nlink)
		fmt.Fprintf(out, "size:      %d\n", st.Size)
		fmt.Fprintf(out, "blocks:    %d\n", st.Blocks)
		fmt.Fprintf(out, "atime:     %s\n", st.Atime)
		fmt.Fprintf(out, "mtime:     %s\n", st.Mtime)
		fmt.Fprintf(out, "ctime:     %s\n", st.Ctime)
		fmt.Fprintf(out, "birthtime: %s\n", st.Birthtime)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
