package downloader

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

const (
	MetadataExtension = ".sud"
	segmentExtension  = ".PARTIAL"
)

// Descriptor is the persisted state of a download. It is written once when a
// download is created and read back unchanged on every resume.
type Descriptor struct {
	URL             string  `json:"url"`
	DestinationPath string  `json:"destinationPath"`
	MetadataPath    string  `json:"metadataPath"`
	Filesize        int64   `json:"filesize"`
	Ranges          []Range `json:"ranges"`
}

func MetadataPath(destination string) string {
	return destination + MetadataExtension
}

func SegmentPath(destination string, index int) string {
	return fmt.Sprintf("%s.%d%s", destination, index, segmentExtension)
}

func IsMetadataPath(path string) bool {
	return strings.HasSuffix(path, MetadataExtension)
}

// WriteMetadata stores d at d.MetadataPath. The document goes to a temporary
// file first and is renamed into place.
func WriteMetadata(fs afero.Fs, d *Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return &MetadataError{Path: d.MetadataPath, Err: err}
	}
	tmp := d.MetadataPath + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0644); err != nil {
		return &IOError{Op: "write", Path: tmp, Err: err}
	}
	if err := fs.Rename(tmp, d.MetadataPath); err != nil {
		fs.Remove(tmp)
		return &IOError{Op: "rename", Path: d.MetadataPath, Err: err}
	}
	return nil
}

func ReadMetadata(fs afero.Fs, path string) (*Descriptor, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &MetadataError{Path: path, Err: err}
	}
	if len(d.Ranges) == 0 {
		return nil, &MetadataError{Path: path, Err: ErrNoRanges}
	}
	if d.MetadataPath == "" {
		d.MetadataPath = path
	}
	return &d, nil
}

// LocalFilesize returns the size of path, or 0 when it does not exist.
func LocalFilesize(fs afero.Fs, path string) (int64, error) {
	info, err := fs.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &IOError{Op: "stat", Path: path, Err: err}
	}
	return info.Size(), nil
}
