package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/service/auth"
)

// MockTokenService implements auth.TokenService for testing.
type MockTokenService struct {
	GenerateTokenFn func(ctx context.Context, ownerID uuid.UUID) (string, error)
	ValidateTokenFn func(ctx context.Context, tokenString string) (*auth.Claims, error)

	// Defaults used when the functions are nil.
	Token       string
	Err         error
	Claims      *auth.Claims
	ValidateErr error
}

var _ auth.TokenService = (*MockTokenService)(nil)

// GenerateToken implements auth.TokenService.
func (m *MockTokenService) GenerateToken(ctx context.Context, ownerID uuid.UUID) (string, error) {
	if m.GenerateTokenFn != nil {
		return m.GenerateTokenFn(ctx, ownerID)
	}
	return m.Token, m.Err
}

// ValidateToken implements auth.TokenService.
func (m *MockTokenService) ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error) {
	if m.ValidateTokenFn != nil {
		return m.ValidateTokenFn(ctx, tokenString)
	}
	return m.Claims, m.ValidateErr
}
