package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/go-ext4/ext4core/pkg/ext4fs"
)

var checkCmd = &cobra.Command{
	Use:   "check IMAGE",
	Short: "Verify free-block accounting and bitmap population invariants",
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

		p := mpb.New()
		bar := p.AddBar(fs.Groups.NGroups(),
			mpb.PrependDecorators(decor.Name("checking groups")),
			mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
		)

		var last int64
		checkErr := fs.Check(func(group, total int64) {
			bar.IncrBy(int(group - last))
			last = group
		})
		p.Wait()

		if checkErr != nil {
			return fmt.Errorf("check failed: %w", checkErr)
		}
		fmt.Println("ok")
		return nil
	},
}
