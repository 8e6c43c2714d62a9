package profile

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// DirectoryAdapter looks up profiles through the profile ServiceContainer.
type DirectoryAdapter struct {
	container mono.ServiceContainer
}

// NewDirectoryAdapter creates an adapter over the profile module's services.
func NewDirectoryAdapter(container mono.ServiceContainer) *DirectoryAdapter {
	if container == nil {
		panic("profile adapter requires non-nil ServiceContainer")
	}
	return &DirectoryAdapter{container: container}
}

// GetProfile returns the profile of userID, or an error wrapping domain.ErrNotFound.
func (a *DirectoryAdapter) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	req := GetProfileRequest{ID: userID}
	var resp GetProfileResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"get-profile",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("get-profile service call failed: %w", err)
	}
	if !resp.Found || resp.Profile == nil {
		return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	}
	return resp.Profile, nil
}
