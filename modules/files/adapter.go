package files

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ResolverAdapter resolves attachment ids through the files ServiceContainer.
type ResolverAdapter struct {
	container mono.ServiceContainer
}

// NewResolverAdapter creates an adapter over the files module's services.
func NewResolverAdapter(container mono.ServiceContainer) *ResolverAdapter {
	if container == nil {
		panic("files adapter requires non-nil ServiceContainer")
	}
	return &ResolverAdapter{container: container}
}

// Resolve returns the URL of fileID, or an error wrapping domain.ErrNotFound.
func (a *ResolverAdapter) Resolve(ctx context.Context, fileID string) (string, error) {
	req := ResolveFileRequest{ID: fileID}
	var resp ResolveFileResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"resolve-file",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return "", fmt.Errorf("resolve-file service call failed: %w", err)
	}
	if !resp.Found {
		return "", fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
	}
	return resp.URL, nil
}
