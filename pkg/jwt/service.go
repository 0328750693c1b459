package jwt

import (
	"time"
)

// Service is a wrapper for JWT operations bound to a single secret
type Service struct {
	secretKey string
	expiry    time.Duration
}

// NewService creates a new JWT service
func NewService(secretKey string, expiry time.Duration) *Service {
	if secretKey == "" {
		secretKey = getSecretKey()
	}

	if expiry == 0 {
		expiry = 24 * time.Hour
	}

	return &Service{
		secretKey: secretKey,
		expiry:    expiry,
	}
}

// GenerateToken generates a token for a user
func (s *Service) GenerateToken(userID string, role Role) (string, error) {
	return signToken(s.secretKey, userID, role, s.expiry)
}

// Verify verifies a token and returns the identity it carries
func (s *Service) Verify(tokenString string) (*Identity, error) {
	return parseToken(s.secretKey, tokenString)
}
