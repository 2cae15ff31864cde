package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/output"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill [FILE.sud...]",
		Short: "Delete the partial files and metadata of stopped downloads",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fs := afero.NewOsFs()
			failed := false
			for _, path := range args {
				removed, err := downloader.Kill(fs, path)
				switch {
				case err != nil:
					output.PrintError(fmt.Sprintf("Error killing %s: %v", path, err))
					failed = true
				case !removed:
					output.PrintWarning(fmt.Sprintf("No download state at %s", path))
				default:
					output.PrintSuccess(fmt.Sprintf("Killed %s", path))
				}
			}
			if failed {
				os.Exit(1)
			}
		},
	}
}
