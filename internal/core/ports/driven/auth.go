package driven

import "github.com/custodia-labs/indexsync/internal/core/domain"

// AuthAdapter signs and verifies API bearer tokens.
type AuthAdapter interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)

	// ParseToken returns domain.ErrTokenExpired for expired tokens and
	// domain.ErrTokenInvalid for anything else that fails verification.
	ParseToken(token string) (*domain.TokenClaims, error)
}
