package downloader

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Kill deletes the partial files and metadata of a download that is not
// running. It reports false when metadataPath does not exist.
func Kill(fs afero.Fs, metadataPath string) (bool, error) {
	desc, err := ReadMetadata(fs, metadataPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for i := range desc.Ranges {
		if err := removeIfExists(fs, SegmentPath(desc.DestinationPath, i)); err != nil {
			return false, err
		}
	}
	if err := removeIfExists(fs, metadataPath); err != nil {
		return false, err
	}
	return true, nil
}

// Clean kills every download whose metadata file sits in dir and returns the
// metadata paths it removed.
func Clean(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, &IOError{Op: "readdir", Path: dir, Err: err}
	}
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || !IsMetadataPath(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ok, err := Kill(fs, path)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, path)
		}
	}
	return removed, nil
}
