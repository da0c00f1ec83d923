// Package token issues and verifies the bearer tokens returned by check-auth.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager signs and verifies HS256 access tokens.
type JWTManager struct {
	secretKey      []byte
	accessTokenDur time.Duration
}

// CustomClaims identifies the user a token was issued to.
type CustomClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a JWTManager. An empty secret disables token issuing.
func NewJWTManager(secret string, accessTokenExpireHours int) *JWTManager {
	if accessTokenExpireHours <= 0 {
		accessTokenExpireHours = 24
	}
	return &JWTManager{
		secretKey:      []byte(secret),
		accessTokenDur: time.Hour * time.Duration(accessTokenExpireHours),
	}
}

// Enabled reports whether a signing secret is configured.
func (m *JWTManager) Enabled() bool {
	return m != nil && len(m.secretKey) > 0
}

// GenerateToken returns a signed access token for the user.
func (m *JWTManager) GenerateToken(userID, email string) (string, error) {
	if !m.Enabled() {
		return "", errors.New("token signing secret is not configured")
	}
	now := time.Now()
	claims := CustomClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken parses tokenString and returns its claims when the signature and
// time window are valid.
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	if !m.Enabled() {
		return nil, errors.New("token signing secret is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
