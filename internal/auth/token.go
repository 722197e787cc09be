// Package auth provides service-token authentication for the export API.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceTokenExpiry is how long issued service tokens remain valid.
const ServiceTokenExpiry = 1 * time.Hour

// DefaultLeeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyActorID is returned when the actor ID is empty.
var ErrEmptyActorID = errors.New("actor ID cannot be empty")

// ErrEmptyOrganizationID is returned when the organization ID is empty.
var ErrEmptyOrganizationID = errors.New("organization ID cannot be empty")

// Claims represents the service-token claims. The subject is the acting
// user or service; org scopes every downstream operation to one tenant.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org"`
}

// TokenService signs and validates HS256 service tokens.
type TokenService struct {
	secret []byte
	leeway time.Duration
}

// NewTokenService creates a new TokenService with the given secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		leeway: DefaultLeeway,
	}
}

// NewTokenServiceWithLeeway creates a new TokenService with custom leeway.
func NewTokenServiceWithLeeway(secret string, leeway time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		leeway: leeway,
	}
}

// GenerateToken creates a new service token for an actor scoped to an
// organization.
func (s *TokenService) GenerateToken(actorID, orgID string) (string, error) {
	if actorID == "" {
		return "", ErrEmptyActorID
	}
	if orgID == "" {
		return "", ErrEmptyOrganizationID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ServiceTokenExpiry)),
		},
		OrganizationID: orgID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and validates a service token, returning the claims
// if valid.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithLeeway(s.leeway))

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
	if claims.OrganizationID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
