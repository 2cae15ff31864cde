package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/output"
	"github.com/tanq16/sud/internal/utils"
)

func newStartCmd() *cobra.Command {
	var outputPath string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "start [URL...] [--output OUTPUT_PATH] [--dir DIR]",
		Short: "Download one or more files over HTTP/HTTPS",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if outputPath != "" && len(args) > 1 {
				output.PrintError("--output can only be used with a single URL")
				os.Exit(1)
			}
			var entries []downloadEntry
			for _, link := range args {
				loc, err := locationsFor(link, outputPath, outputDir)
				if err != nil {
					output.PrintError(fmt.Sprintf("Skipping %s: %v", link, err))
					continue
				}
				entries = append(entries, downloadEntry{label: link, loc: loc})
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

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the URL if not provided)")
	cmd.Flags().StringVarP(&outputDir, "dir", "d", "", "Directory for the inferred output file")
	return cmd
}

// locationsFor resolves where link is saved. A destination that already has
// a metadata file is resumed; one that exists as a finished file gets a
// fresh numbered name.
func locationsFor(link, outputPath, outputDir string) (downloader.Locations, error) {
	if link == "" {
		return downloader.Locations{}, downloader.ErrNoURL
	}
	loc := downloader.Locations{URL: link, DestinationPath: outputPath, DestinationDir: outputDir}
	destination, err := loc.ResolveDestination()
	if err != nil {
		return loc, err
	}
	metadataPath := downloader.MetadataPath(destination)
	if _, err := os.Stat(metadataPath); err == nil {
		return downloader.Locations{MetadataPath: metadataPath}, nil
	}
	if _, err := os.Stat(destination); err == nil {
		destination = utils.RenewOutputPath(destination)
	} else if !errors.Is(err, os.ErrNotExist) {
		return loc, err
	}
	loc.DestinationPath = destination
	return loc, nil
}
