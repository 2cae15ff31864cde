package downloader

import (
	"io"
	"os"

	"github.com/spf13/afero"
)

// Rebuild joins the partial files of d into its destination and removes the
// partial files and the metadata file. Every segment is checked before
// anything is touched.
func Rebuild(fs afero.Fs, d *Descriptor) error {
	segments := make([]string, len(d.Ranges))
	for i, r := range d.Ranges {
		path := SegmentPath(d.DestinationPath, i)
		size, err := LocalFilesize(fs, path)
		if err != nil {
			return err
		}
		if diff := r.Start() + size - r.End(); diff > 1 || diff < -1 {
			return &RebuildError{Segment: i, Path: path, Expected: r.End(), Actual: r.Start() + size}
		}
		segments[i] = path
	}

	if err := removeIfExists(fs, d.DestinationPath); err != nil {
		return err
	}
	if len(segments) == 1 {
		if err := renameSegment(fs, segments[0], d.DestinationPath); err != nil {
			return err
		}
	} else {
		for _, path := range segments {
			if err := appendSegment(fs, path, d.DestinationPath); err != nil {
				return err
			}
			if err := removeIfExists(fs, path); err != nil {
				return err
			}
		}
	}
	return removeIfExists(fs, d.MetadataPath)
}

func renameSegment(fs afero.Fs, path, destination string) error {
	if _, err := fs.Stat(path); os.IsNotExist(err) {
		// empty ranges are never fetched so their file may not exist
		return touch(fs, destination)
	}
	if err := fs.Rename(path, destination); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func appendSegment(fs afero.Fs, path, destination string) error {
	out, err := fs.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return &IOError{Op: "open", Path: destination, Err: err}
	}
	defer out.Close()
	in, err := fs.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	defer in.Close()
	if _, err := io.Copy(out, in); err != nil {
		return &IOError{Op: "append", Path: destination, Err: err}
	}
	return nil
}

func touch(fs afero.Fs, path string) error {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	return f.Close()
}

func removeIfExists(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return &IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}
