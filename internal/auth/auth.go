// internal/auth/auth.go
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer       = "pickupdesk"
	RoleOperator = "operator"
)

// TokenConfig holds the configuration for token generation
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration
}

// OperatorClaims identify the staff member operating a terminal
type OperatorClaims struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Token is the validated view of an operator token
type Token struct {
	OperatorID string
	Role       string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

var ErrSecretRequired = errors.New("secret key is required")

// GenerateToken signs an HS256 operator token
func GenerateToken(operatorID string, config *TokenConfig) (string, error) {
	if config == nil || len(config.Secret) == 0 {
		return "", ErrSecretRequired
	}
	if operatorID == "" {
		return "", fmt.Errorf("operator id is required")
	}

	now := time.Now()
	claims := OperatorClaims{
		OperatorID: operatorID,
		Role:       RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  operatorID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if config.Expiration > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(config.Expiration))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(config.Secret)
}

// ParseToken parses and validates a token
func ParseToken(tokenString string, config *TokenConfig) (*Token, error) {
	if config == nil || len(config.Secret) == 0 {
		return nil, ErrSecretRequired
	}

	var claims OperatorClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return config.Secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithIssuedAt())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Role != RoleOperator || claims.OperatorID == "" {
		return nil, fmt.Errorf("token is not an operator token")
	}

	t := &Token{OperatorID: claims.OperatorID, Role: claims.Role}
	if claims.IssuedAt != nil {
		t.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Time
	}
	return t, nil
}

// GenerateSecureKey returns a random hex key suitable for AUTH_SECRET_KEY
func GenerateSecureKey(length int) (string, error) {
	if length <= 0 {
		length = 32 // Default to 256 bits
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
