package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/4s1ght/ibfs/pkg/ibfs"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck PATH",
	Short: "walk the filesystem root's FBM and report unreachable allocations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := ibfs.Open(context.Background(), ibfs.OpenOptions{
			Path:      args[0],
			UserKey:   []byte(flagKey),
			Integrity: flagIntegrity,
			Log:       log,
		})
		if err != nil {
			return err
		}
		defer fs.Close()

		report, err := fs.Fsck(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("heads visited:  %d\n", report.HeadsVisited)
		fmt.Printf("links visited:  %d\n", report.LinksVisited)
		fmt.Printf("data visited:   %d\n", report.DataVisited)
		fmt.Printf("mismatches:     %d\n", len(report.Mismatches))
		for _, m := range report.Mismatches {
			fmt.Printf("  - %s\n", m)
		}
		fmt.Printf("leaked blocks:  %d\n", len(report.LeakedAddrs))
		for _, addr := range report.LeakedAddrs {
			fmt.Printf("  - %d\n", addr)
		}

		if len(report.Mismatches) > 0 || len(report.LeakedAddrs) > 0 {
			return fmt.Errorf("fsck found %d mismatch(es) and %d leaked block(s)", len(report.Mismatches), len(report.LeakedAddrs))
		}
		return nil
	},
}
