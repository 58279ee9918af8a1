package images

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// File represents an image file read from disk.
type File struct {
	// Path is the path to the image file.
	Path string
	// Image holds the raw bytes, format not yet detected.
	Image Image
	// Frame is the number parsed from a "frame-N" file name, or -1.
	Frame int
}

// LoadFiles reads one image file, or every supported image of a directory.
//
// Directory entries are sorted by frame number when named "frame-N.ext",
// otherwise by name; numbered frames come first.
//
// Arguments:
//   - path: An image file or a directory containing image files.
//
// Returns:
//   - []File: The files read.
//   - error: If path cannot be read or a directory holds no images.
func LoadFiles(path string) ([]File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat input")
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read image")
		}
		return []File{{Path: path, Image: Image{Data: data}, Frame: frameNumber(filepath.Base(path))}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read directory")
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".webp":
			p := filepath.Join(path, entry.Name())
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read %s", p)
			}
			files = append(files, File{Path: p, Image: Image{Data: data}, Frame: frameNumber(entry.Name())})
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images in %s", path)
	}

	sort.SliceStable(files, func(i, j int) bool {
		fi, fj := files[i].Frame, files[j].Frame
		if (fi < 0) != (fj < 0) {
			return fi >= 0
		}
		if fi != fj {
			return fi < fj
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func frameNumber(name string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(base, "frame-") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(base, "frame-"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
