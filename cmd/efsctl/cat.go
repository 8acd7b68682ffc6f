package main

import (
	"io"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		efs, err := openFS()
		if err != nil {
			return err
		}
		defer efs.Close()

		stream, err := efs.CreateReadStream(args[0])
		if err != nil {
			return err
		}
		defer stream.Close()

		_, err = io.Copy(cmd.OutOrStdout(), stream)
		return err
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
}
