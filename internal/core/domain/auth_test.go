package domain

import (
	"testing"
	"time"
)

func TestNewTokenClaims(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	claims := NewTokenClaims("change-feed", now, time.Hour)

	if claims.Subject != "change-feed" {
		t.Errorf("expected subject change-feed, got %s", claims.Subject)
	}
	if claims.IssuedAt != now.Unix() {
		t.Errorf("expected iat %d, got %d", now.Unix(), claims.IssuedAt)
	}
	if claims.ExpiresAt-claims.IssuedAt != 3600 {
		t.Errorf("expected one hour validity, got %ds", claims.ExpiresAt-claims.IssuedAt)
	}
}
