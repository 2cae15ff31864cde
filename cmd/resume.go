package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/output"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [FILE.sud...]",
		Short: "Resume stopped downloads from their metadata files",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var entries []downloadEntry
			for _, path := range args {
				if !downloader.IsMetadataPath(path) {
					output.PrintError(fmt.Sprintf("Skipping %s: not a %s file", path, downloader.MetadataExtension))
					continue
				}
				entries = append(entries, downloadEntry{
					label: filepath.Base(path),
					loc:   downloader.Locations{MetadataPath: path},
				})
			}
			if len(entries) == 0 {
				os.Exit(1)
			}
			if err := runDownloads(entries); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}
}
