package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	"github.com/4s1ght/ibfs/pkg/ibfs"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect PATH",
	Short: "print a volume's root block and meta cluster",
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

		root := fs.Volume().Root()
		rows := [][]string{
			{"", ""}, // placeholder row, dropped by printTable
			{"spec_version", fmt.Sprintf("%d.%d", root.SpecMajor, root.SpecMinor)},
			{"volume_uuid", root.VolumeUUID.String()},
			{"fs_root_address", fmt.Sprintf("%d", root.FSRootAddress)},
			{"cipher", fmt.Sprintf("%d", root.Cipher)},
			{"compatibility", fmt.Sprintf("%v", root.Compatibility)},
			{"block_size", fmt.Sprintf("%d", fs.Volume().BlockSize())},
			{"block_count", fmt.Sprintf("%d", root.BlockCount)},
			{"offset", fmt.Sprintf("%d", fs.Volume().Offset())},
		}
		printTable(rows)

		meta := fs.Volume().ReadMetaCluster()
		if len(meta) > 0 {
			fmt.Println("\nmeta cluster:")
			metaRows := [][]string{{"", ""}}
			for k, v := range meta {
				metaRows = append(metaRows, []string{k, fmt.Sprintf("%v", v)})
			}
			printTable(metaRows)
		}

		return nil
	},
}

// printTable renders rows in a plain, borderless grid. Matches the
// teacher's cmd/vorteil PlainTable: the first row only fixes the column
// count and is never rendered.
func printTable(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	for _, row := range rows[1:] {
		table.Append(row)
	}
	table.Render()
}
