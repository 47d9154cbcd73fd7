package models

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/dndupload/internal/constants"
)

// File is a file selected for upload, either dropped on a zone or picked
// through a file input.
type File struct {
	Name        string // Base name shown to the user
	Path        string // Local path the bytes are read from
	Size        int64  // Size in bytes at selection time
	ContentType string // MIME type guessed from the extension
	IsDir       bool   // Directories cannot be uploaded but can still be selected
}

// NewFile stats path and describes it as a selected file.
// The returned File may still be rejected when an upload task is built for it.
func NewFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &File{
		Name:        info.Name(),
		Path:        path,
		Size:        info.Size(),
		ContentType: ContentTypeFor(path),
		IsDir:       info.IsDir(),
	}, nil
}

// ContentTypeFor guesses a MIME type from the file extension.
func ContentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return constants.DefaultContentType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return constants.DefaultContentType
}

// String returns the file name, or "<nil>" for a nil file.
func (f *File) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.Name
}
