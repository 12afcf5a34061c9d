// Package media persists evidence photos. Only opaque references travel
// through the API; the booking service never touches bytes.
package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store saves an uploaded photo and returns an opaque reference for the
// evidence record.
type Store interface {
	Save(bookingID uuid.UUID, filename string, r io.Reader) (string, error)
	Open(ref string) (io.ReadCloser, error)
	Remove(ref string) error
}

// DiskStore writes photos under a local directory, one subdirectory per
// booking.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

func (s *DiskStore) Save(bookingID uuid.UUID, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		return "", fmt.Errorf("unsupported photo type %q", ext)
	}
	dir := filepath.Join(s.root, bookingID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := uuid.New().String() + ext
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", err
	}
	return bookingID.String() + "/" + name, nil
}

func (s *DiskStore) Open(ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes a previously saved photo. Used when the evidence record is
// rejected after the upload already landed.
func (s *DiskStore) Remove(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// resolve maps a ref back to a path. Refs are server-generated, but never
// trust them as paths.
func (s *DiskStore) resolve(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid media reference")
	}
	return filepath.Join(s.root, clean), nil
}
