package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Run a consistency pass over the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		efs, err := openFS()
		if err != nil {
			return err
		}
		defer efs.Close()

		report, err := efs.Fsck()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "inodes: %d, reachable: %d\n", report.TotalInodes, report.Reachable)
		for _, e := range report.StoreErrors {
			fmt.Fprintf(out, "store error: %s\n", e)
		}
		for _, ino := range report.Orphaned {
			fmt.Fprintf(out, "orphaned inode: %d\n", ino)
		}
		for _, ino := range report.MissingStat {
			fmt.Fprintf(out, "missing stat: %d\n", ino)
		}
		for _, ino := range report.BrokenDirs {
			fmt.Fprintf(out, "broken directory entries: %d\n", ino)
		}
		if report.Clean() {
			fmt.Fprintln(out, "clean")
			return nil
		}
		return fmt.Errorf("fsck found %d orphaned, %d missing stat, %d broken directories",
			len(report.Orphaned), len(report.MissingStat), len(report.BrokenDirs))
	},
}

func init() {
	rootCmd.AddCommand(fsckCmd)
}
