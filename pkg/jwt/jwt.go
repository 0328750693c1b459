package jwt

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Role represents the access level carried by a token
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Claims represents the claims in a gateway access token
type Claims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified subject extracted from a token
type Identity struct {
	UserID string
	Role   Role
}

// GenerateToken generates a new token for a user using the environment secret
func GenerateToken(userID string, role Role) (string, error) {
	return signToken(getSecretKey(), userID, role, 24*time.Hour)
}

// VerifyToken verifies a token against the environment secret and returns the identity
func VerifyToken(tokenString string) (*Identity, error) {
	return parseToken(getSecretKey(), tokenString)
}

func signToken(secretKey, userID string, role Role, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

func parseToken(secretKey, tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return []byte(secretKey), nil
		},
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Older issuers put the user id only in the subject claim
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}

	return &Identity{UserID: userID, Role: role}, nil
}

// getSecretKey reads the signing secret from the environment. The
// fallback matches the config default so locally minted tokens verify
// against a default-configured gateway.
func getSecretKey() string {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default-jwt-secret-do-not-use-in-production"
	}
	return secret
}
