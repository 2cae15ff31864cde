package downloader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tanq16/sud/internal/utils"
)

// Locations identifies a download. A non-empty MetadataPath resumes an
// existing download; otherwise URL starts a new one, saved to
// DestinationPath or to the URL's file name inside DestinationDir (the
// working directory when empty).
type Locations struct {
	MetadataPath    string
	URL             string
	DestinationPath string
	DestinationDir  string
}

// ParseLocations treats a path ending in .sud as a resume and anything else
// as a URL.
func ParseLocations(s string) Locations {
	if IsMetadataPath(s) {
		return Locations{MetadataPath: s}
	}
	return Locations{URL: s}
}

func (l Locations) IsResume() bool {
	return l.MetadataPath != ""
}

// ResolveDestination returns where a new download is saved.
func (l Locations) ResolveDestination() (string, error) {
	if l.DestinationPath != "" {
		return l.DestinationPath, nil
	}
	if l.URL == "" {
		return "", ErrNoURL
	}
	name, err := utils.FileNameFromURL(l.URL)
	if err != nil {
		return "", fmt.Errorf("error deriving file name: %w", err)
	}
	dir := l.DestinationDir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return "", &IOError{Op: "getwd", Path: ".", Err: err}
		}
	}
	return filepath.Join(dir, name), nil
}

// ResolveMetadataPath returns the metadata file a download uses, without
// touching the network.
func (l Locations) ResolveMetadataPath() (string, error) {
	if l.IsResume() {
		return l.MetadataPath, nil
	}
	destination, err := l.ResolveDestination()
	if err != nil {
		return "", err
	}
	return MetadataPath(destination), nil
}
