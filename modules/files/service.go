package files

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/google/uuid"
)

const (
	defaultContentType = "application/octet-stream"

	// DefaultMaxUploadSize caps a single attachment.
	DefaultMaxUploadSize int64 = 10 * 1024 * 1024

	// DefaultURLBase prefixes the id of an attachment to build its URL.
	DefaultURLBase = "/api/v1/files/"
)

// Service stores chat attachments in a JetStream object store bucket. Objects are keyed
// "<fileID>/<filename>".
type Service struct {
	bucket        fsjetstream.FileStoragePort
	maxUploadSize int64
	urlBase       string
	now           func() time.Time
}

// NewService creates an attachment service on top of bucket.
func NewService(bucket fsjetstream.FileStoragePort, maxUploadSize int64, urlBase string) *Service {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	if urlBase == "" {
		urlBase = DefaultURLBase
	}
	return &Service{
		bucket:        bucket,
		maxUploadSize: maxUploadSize,
		urlBase:       urlBase,
		now:           time.Now,
	}
}

// MaxUploadSize returns the largest accepted attachment in bytes.
func (s *Service) MaxUploadSize() int64 {
	return s.maxUploadSize
}

// Upload stores data under a fresh id and returns its metadata.
func (s *Service) Upload(ctx context.Context, filename string, data []byte, contentType, uploaderID string) (*FileInfo, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxUploadSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, len(data), s.maxUploadSize)
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	name := sanitizeFilename(filename)
	fileID := uuid.New().String()
	headers := map[string]string{
		"Content-Type":  contentType,
		"Original-Name": name,
		"File-ID":       fileID,
		"Uploaded-By":   uploaderID,
		"Uploaded-At":   s.now().UTC().Format(time.RFC3339),
	}

	info, err := s.bucket.Put(ctx, fileID+"/"+name, data,
		fsjetstream.WithDescription("Chat attachment: "+name),
		fsjetstream.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	return &FileInfo{
		ID:          fileID,
		Name:        name,
		Size:        int64(info.Size),
		ContentType: contentType,
		Digest:      info.Digest,
		UploadedBy:  uploaderID,
		URL:         s.urlFor(fileID),
		CreatedAt:   info.ModTime,
	}, nil
}

// Open returns the content and metadata of an attachment.
func (s *Service) Open(ctx context.Context, fileID string) ([]byte, *FileInfo, error) {
	obj, err := s.find(fileID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.bucket.Get(obj.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get file: %w", err)
	}
	return data, s.buildInfo(fileID, obj), nil
}

// Info returns attachment metadata without its content.
func (s *Service) Info(ctx context.Context, fileID string) (*FileInfo, error) {
	obj, err := s.find(fileID)
	if err != nil {
		return nil, err
	}
	return s.buildInfo(fileID, obj), nil
}

// Resolve returns the URL messages carry for fileID. Malformed ids are reported as not
// found.
func (s *Service) Resolve(ctx context.Context, fileID string) (string, error) {
	if validateFileID(fileID) != nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	if _, err := s.find(fileID); err != nil {
		return "", err
	}
	return s.urlFor(fileID), nil
}

func (s *Service) urlFor(fileID string) string {
	return s.urlBase + fileID
}

func (s *Service) find(fileID string) (*fsjetstream.ObjectInfo, error) {
	if s.bucket == nil {
		return nil, errStorageUnavailable
	}
	if err := validateFileID(fileID); err != nil {
		return nil, err
	}

	objects, err := s.bucket.List(fsjetstream.WithPrefix(fileID + "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	return &objects[0], nil
}

func (s *Service) buildInfo(fileID string, obj *fsjetstream.ObjectInfo) *FileInfo {
	contentType := obj.Headers["Content-Type"]
	if contentType == "" {
		contentType = defaultContentType
	}
	name := strings.TrimPrefix(obj.Name, fileID+"/")
	return &FileInfo{
		ID:          fileID,
		Name:        name,
		Size:        int64(obj.Size),
		ContentType: contentType,
		Digest:      obj.Digest,
		UploadedBy:  obj.Headers["Uploaded-By"],
		URL:         s.urlFor(fileID),
		CreatedAt:   obj.ModTime,
	}
}

func validateFileID(fileID string) error {
	if fileID == "" {
		return ErrInvalidFileID
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidFileID, fileID)
	}
	return nil
}

// sanitizeFilename keeps only the base name so keys cannot escape their id prefix.
func sanitizeFilename(filename string) string {
	clean := filepath.Base(filepath.Clean(filename))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}
