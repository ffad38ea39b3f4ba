// Package util - Loading frame files from disk.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the frame number parsed from a "frame-N" name, -1 otherwise.
	Frame int
}

// IsImageFile reports whether a path has an extension the decoder supports.
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

// LoadImageFile reads a single image file.
func LoadImageFile(path string) (ImageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "error reading %s", path)
	}
	return ImageFile{Path: path, Data: data, Frame: frameNumber(path)}, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Files named "frame-N.ext" come first in frame order, any other image
// follows in name order. Subdirectories and other files are skipped.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "error listing %s", dir)
	}

	images := []ImageFile{}
	for _, file := range files {
		if file.IsDir() || !IsImageFile(file.Name()) {
			continue
		}

		image, err := LoadImageFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}

	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		switch {
		case a.Frame >= 0 && b.Frame >= 0 && a.Frame != b.Frame:
			return a.Frame < b.Frame
		case (a.Frame >= 0) != (b.Frame >= 0):
			return a.Frame >= 0
		default:
			return a.Path < b.Path
		}
	})

	return images, nil
}

func frameNumber(path string) int {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(name, "frame-") {
		return -1
	}
	frame, err := strconv.Atoi(strings.TrimPrefix(name, "frame-"))
	if err != nil || frame < 0 {
		return -1
	}
	return frame
}
