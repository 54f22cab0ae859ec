package receipts

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnsupportedType is returned for content types outside the allowed set
	ErrUnsupportedType = errors.New("unsupported receipt content type")

	// ErrTooLarge is returned when the upload exceeds the configured limit
	ErrTooLarge = errors.New("receipt exceeds the maximum allowed size")
)

// allowedTypes maps accepted content types to the stored file extension.
var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Store persists receipt files on the local filesystem, keyed by an opaque
// reference. References are stored on expenses; the files themselves never
// travel through the database.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates a receipt store rooted at dir, creating it if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create receipt directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// MaxBytes returns the configured upload limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Save writes the receipt and returns its reference. The reader is trusted to
// already be length-limited by the HTTP layer; Save enforces the limit again
// against whatever actually arrives.
func (s *Store) Save(contentType string, r io.Reader) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", ErrUnsupportedType
	}
	ext, ok := allowedTypes[mediaType]
	if !ok {
		return "", ErrUnsupportedType
	}

	ref := uuid.NewString() + ext
	path := filepath.Join(s.dir, ref)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create receipt file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write receipt file: %w", err)
	}
	if written > s.maxBytes {
		_ = os.Remove(path)
		return "", ErrTooLarge
	}

	return ref, nil
}

// Open returns a reader over a stored receipt plus its content type.
func (s *Store) Open(ref string) (io.ReadCloser, string, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}

	contentType := "application/octet-stream"
	ext := filepath.Ext(ref)
	for mediaType, allowedExt := range allowedTypes {
		if allowedExt == ext {
			contentType = mediaType
			break
		}
	}

	return f, contentType, nil
}

// Delete removes a stored receipt. Missing files are not an error; the
// reference may already have been cleaned up.
func (s *Store) Delete(ref string) {
	path, err := s.resolve(ref)
	if err != nil {
		log.Warn().Str("ref", ref).Msg("Refusing to delete receipt with invalid reference")
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("ref", ref).Msg("Failed to delete receipt file")
	}
}

// resolve validates the reference and maps it into the store directory.
// References are always a UUID plus extension, so anything containing a path
// separator is rejected outright.
func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid receipt reference")
	}
	return filepath.Join(s.dir, ref), nil
}
