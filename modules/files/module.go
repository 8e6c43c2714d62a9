package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
)

// BucketName is the object store bucket holding chat attachments.
const BucketName = "attachments"

// FilesModule stores chat attachments through the fs-jetstream plugin.
type FilesModule struct {
	storage *fsjetstream.PluginModule
	bucket  fsjetstream.FileStoragePort
	service *Service
	logger  types.Logger

	maxUploadSize int64
	urlBase       string
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*FilesModule)(nil)
	_ mono.UsePluginModule       = (*FilesModule)(nil)
	_ mono.ServiceProviderModule = (*FilesModule)(nil)
	_ mono.HealthCheckableModule = (*FilesModule)(nil)
)

// NewModule creates a new FilesModule configured from MAX_UPLOAD_SIZE and FILE_URL_BASE.
func NewModule(logger types.Logger) *FilesModule {
	maxUploadSize := DefaultMaxUploadSize
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxUploadSize = n
		}
	}
	urlBase := os.Getenv("FILE_URL_BASE")
	if urlBase == "" {
		urlBase = DefaultURLBase
	}
	return &FilesModule{
		logger:        logger,
		maxUploadSize: maxUploadSize,
		urlBase:       urlBase,
	}
}

// Name returns the module name.
func (m *FilesModule) Name() string {
	return "files"
}

// SetPlugin receives the storage plugin from the framework before Start.
func (m *FilesModule) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias != "storage" {
		return
	}
	storage, ok := plugin.(*fsjetstream.PluginModule)
	if !ok {
		m.logger.Error("Invalid plugin type for storage",
			"alias", alias,
			"expected", "*fsjetstream.PluginModule")
		return
	}
	m.storage = storage
}

// RegisterServices registers the resolve-file request-reply service.
func (m *FilesModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		"resolve-file",
		json.Unmarshal,
		json.Marshal,
		m.resolveFile,
	); err != nil {
		return fmt.Errorf("failed to register resolve-file service: %w", err)
	}
	log.Printf("[files] Registered services: resolve-file")
	return nil
}

// Start opens the attachments bucket.
func (m *FilesModule) Start(_ context.Context) error {
	if m.storage == nil {
		return fmt.Errorf("required plugin 'storage' not registered")
	}
	m.bucket = m.storage.Bucket(BucketName)
	if m.bucket == nil {
		return fmt.Errorf("bucket '%s' not found in storage plugin", BucketName)
	}
	m.service = NewService(m.bucket, m.maxUploadSize, m.urlBase)

	log.Printf("[files] Module started (bucket: %s, max upload: %d bytes)", BucketName, m.maxUploadSize)
	return nil
}

// Stop shuts down the module. The bucket is owned by the plugin.
func (m *FilesModule) Stop(_ context.Context) error {
	log.Println("[files] Module stopped")
	return nil
}

// Health reports whether the bucket is available.
func (m *FilesModule) Health(_ context.Context) mono.HealthStatus {
	if m.bucket == nil {
		return mono.HealthStatus{Healthy: false, Message: "bucket not initialized"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"bucket":          BucketName,
			"max_upload_size": m.maxUploadSize,
		},
	}
}

// Service returns the attachment service. It is nil before Start.
func (m *FilesModule) Service() *Service {
	return m.service
}

func (m *FilesModule) resolveFile(ctx context.Context, req ResolveFileRequest, _ *mono.Msg) (ResolveFileResponse, error) {
	if m.service == nil {
		return ResolveFileResponse{}, errStorageUnavailable
	}
	info, err := m.service.Info(ctx, req.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidPayload) {
			return ResolveFileResponse{Found: false, ID: req.ID}, nil
		}
		return ResolveFileResponse{}, err
	}
	return ResolveFileResponse{
		Found:       true,
		ID:          info.ID,
		URL:         info.URL,
		Name:        info.Name,
		ContentType: info.ContentType,
		Size:        info.Size,
	}, nil
}
