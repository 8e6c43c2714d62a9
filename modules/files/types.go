package files

import (
	"errors"
	"fmt"
	"time"

	domain "github.com/example/support-chat/domain/chat"
)

// Errors returned by the attachment service. They wrap the chat domain errors so the
// transports can map them like any other domain failure.
var (
	ErrInvalidFileID = fmt.Errorf("invalid file id: %w", domain.ErrInvalidPayload)
	ErrFileNotFound  = fmt.Errorf("file not found: %w", domain.ErrNotFound)
	ErrEmptyFile     = fmt.Errorf("file is empty: %w", domain.ErrInvalidPayload)
	ErrFileTooLarge  = fmt.Errorf("file exceeds upload limit: %w", domain.ErrInvalidPayload)
)

var errStorageUnavailable = errors.New("attachment storage not started")

// FileInfo describes a stored attachment.
type FileInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	Digest      string    `json:"digest,omitempty"`
	UploadedBy  string    `json:"uploadedBy,omitempty"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ResolveFileRequest asks for the public URL of an attachment.
type ResolveFileRequest struct {
	ID string `json:"id"`
}

// ResolveFileResponse answers a ResolveFileRequest. Found is false for unknown or
// malformed ids.
type ResolveFileResponse struct {
	Found       bool   `json:"found"`
	ID          string `json:"id"`
	URL         string `json:"url,omitempty"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}
