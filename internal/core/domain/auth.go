package domain

import "time"

// TokenClaims is the payload of a bearer token accepted by the API.
// Change feeds and operators authenticate with tokens signed by the shared
// secret; Subject names the caller in logs.
type TokenClaims struct {
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// NewTokenClaims creates claims for subject valid for ttl from now
func NewTokenClaims(subject string, now time.Time, ttl time.Duration) *TokenClaims {
	return &TokenClaims{
		Subject:   subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// AuthContext identifies the caller of an authenticated request
type AuthContext struct {
	Subject string `json:"subject"`
}
