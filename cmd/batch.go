package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/sud/internal/output"
)

type BatchEntry struct {
	Link       string `yaml:"link"`
	OutputPath string `yaml:"op,omitempty"`
	OutputDir  string `yaml:"dir,omitempty"`
}

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			batch, err := readBatchFile(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			entries := buildBatchEntries(batch)
			if len(entries) == 0 {
				output.PrintError("No valid entries found in the batch file")
				os.Exit(1)
			}
			if err := runDownloads(entries); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}
}

func readBatchFile(path string) ([]BatchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading batch file: %w", err)
	}
	var batch []BatchEntry
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %w", err)
	}
	return batch, nil
}

func buildBatchEntries(batch []BatchEntry) []downloadEntry {
	var entries []downloadEntry
	for i, entry := range batch {
		if entry.Link == "" {
			output.PrintWarning(fmt.Sprintf("Entry %d has no link, skipping...", i+1))
			continue
		}
		loc, err := locationsFor(entry.Link, entry.OutputPath, entry.OutputDir)
		if err != nil {
			output.PrintWarning(fmt.Sprintf("Entry %d (%s): %v, skipping...", i+1, entry.Link, err))
			continue
		}
		entries = append(entries, downloadEntry{label: entry.Link, loc: loc})
	}
	return entries
}
