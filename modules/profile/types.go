package profile

import (
	domain "github.com/example/support-chat/domain/chat"
)

// GetProfileRequest asks for one user profile.
type GetProfileRequest struct {
	ID string `json:"id"`
}

// GetProfileResponse answers a GetProfileRequest.
type GetProfileResponse struct {
	Found   bool                `json:"found"`
	Profile *domain.UserProfile `json:"profile,omitempty"`
}
