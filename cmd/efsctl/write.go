package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var writeMode uint32
var writeFrom string

var writeCmd = &cobra.Command{
	Use:   "write <path>",
	Short: "Write stdin (or --from) to a file, creating/truncating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var src io.Reader = cmd.InOrStdin()
		if writeFrom != "" {
			f, err := os.Open(writeFrom)
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}

		efs, err := openFS()
		if err != nil {
			return err
		}
		defer efs.Close()

		stream, err := efs.CreateWriteStream(args[0], writeMode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(stream, src); err != nil {
			stream.Close()
			return err
		}
		return stream.Close()
	},
}

func init() {
	writeCmd.Flags().Uint32Var(&writeMode, "mode", 0o644, "permission bits if the file is created")
	writeCmd.Flags().StringVar(&writeFrom, "from", "", "read from this local file instead of stdin")
	rootCmd.AddCommand(writeCmd)
}
