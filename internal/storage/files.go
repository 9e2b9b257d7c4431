// Package storage keeps uploaded files on local disk under random names.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const sniffLen = 512

// StoredFile describes a saved upload.
type StoredFile struct {
	Name        string
	URL         string
	Size        int64
	ContentType string
}

// FileStore writes uploads into a single directory and serves them under URLPrefix.
type FileStore struct {
	dir       string
	urlPrefix string
	maxBytes  int64
	logger    zerolog.Logger
}

// NewFileStore creates dir if needed.
func NewFileStore(dir, urlPrefix string, maxBytes int64, logger *zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &FileStore{
		dir:       dir,
		urlPrefix: urlPrefix,
		maxBytes:  maxBytes,
		logger:    logger.With().Str("component", "storage").Logger(),
	}, nil
}

// Dir returns the directory files are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// MaxBytes is the size limit of a single upload.
func (s *FileStore) MaxBytes() int64 {
	return s.maxBytes
}

// URLPrefix returns the public path prefix of stored files.
func (s *FileStore) URLPrefix() string {
	return s.urlPrefix
}

// Save stores r under a random name keeping the extension of original. When
// allowedPrefix is set, the sniffed content type must start with it.
func (s *FileStore) Save(original string, r io.Reader, allowedPrefix string) (*StoredFile, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyFile
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	if allowedPrefix != "" && !strings.HasPrefix(contentType, allowedPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	name := uuid.NewString() + cleanExt(original)
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	body := io.MultiReader(bytes.NewReader(head), r)
	written, err := io.Copy(tmp, io.LimitReader(body, s.maxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close upload: %w", closeErr)
	}
	if written > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	s.logger.Debug().Str("name", name).Int64("size", written).Str("type", contentType).Msg("upload stored")
	return &StoredFile{
		Name:        name,
		URL:         s.urlPrefix + name,
		Size:        written,
		ContentType: contentType,
	}, nil
}

// Remove deletes a stored file by name. Missing files are ignored.
func (s *FileStore) Remove(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return ErrInvalidStoreName
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// cleanExt returns a short lower-case extension from name, or "".
func cleanExt(name string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
