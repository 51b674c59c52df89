// Package auth issues and checks the service tokens the workspace presents
// to the job server.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

func GenerateToken(secret []byte, service string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func ValidateToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ServiceSigner hands out a cached token and renews it shortly before it
// expires.
type ServiceSigner struct {
	secret  []byte
	service string
	ttl     time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewServiceSigner(secret, service string) *ServiceSigner {
	return &ServiceSigner{secret: []byte(secret), service: service, ttl: DefaultTokenTTL}
}

func (s *ServiceSigner) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expires) > time.Minute {
		return s.token, nil
	}
	token, err := GenerateToken(s.secret, s.service, s.ttl)
	if err != nil {
		return "", err
	}
	s.token, s.expires = token, time.Now().Add(s.ttl)
	return token, nil
}
