package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ext4/ext4core/pkg/ext4fs"
)

var mountCmd = &cobra.Command{
	Use:   "mount IMAGE",
	Short: "Mount an ext4 image, report basic geometry, and unmount cleanly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := pathArg(args)
		if err != nil {
			return err
		}

		fs, err := ext4fs.Mount(path, mountOptions())
		if err != nil {
			return err
		}
		defer func() {
			if err := fs.Unmount(); err != nil {
				log.Errorf("unmount: %v", err)
			}
		}()

		fmt.Printf("mounted %s\n", path)
		fmt.Printf("  block size:       %d\n", fs.Superblock.BlockSize())
		fmt.Printf("  block groups:     %d\n", fs.Groups.NGroups())
		fmt.Printf("  free blocks:      %d\n", fs.Superblock.FreeBlocksCount())
		fmt.Printf("  free inodes:      %d\n", fs.Superblock.FreeInodesCount())
		fmt.Printf("  volume UUID:      %s\n", fs.Superblock.UUID())

		return nil
	},
}
