package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ext4/ext4core/pkg/ext4fs"
)

var flagInfoGroups bool

var infoCmd = &cobra.Command{
	Use:   "info IMAGE",
	Short: "Dump the full superblock (and, with --groups, the group-descriptor table)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := pathArg(args)
		if err != nil {
			return err
		}

		opts := mountOptions()
		opts.ReadOnly = true
		fs, err := ext4fs.Mount(path, opts)
		if err != nil {
			return err
		}
		defer fs.Unmount()

		fmt.Println(fs.Superblock.Dump())
		if flagInfoGroups {
			fmt.Println(fs.Groups.Dump())
		}
		return nil
	},
}

func init() {
	infoCmd.Flags().BoolVar(&flagInfoGroups, "groups", false, "also dump the group-descriptor table")
}
