package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory's entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}

		efs, err := openFS()
		if err != nil {
			return err
		}
		defer efs.Close()

		entries, err := efs.Readdir(path)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s ino=%-8d mode=%o\n", ent.Name, ent.Ino, ent.Mode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
