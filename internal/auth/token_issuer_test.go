package auth

import (
	"testing"
	"time"
)

func TestTokenIssuerRoundTripsThroughValidator(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      30 * time.Minute,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, expiresAt, err := issuer.Issue(Principal{Subject: testSessionSubject, DisplayName: "Reviewer", Roles: []string{"editor"}})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := newTestValidator(t, clockNow.Add(time.Minute)).ValidateToken(token)
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if claims.Subject != testSessionSubject || len(claims.Roles) != 1 || claims.Roles[0] != "editor" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := newTestValidator(t, clockNow.Add(time.Hour)).ValidateToken(token); err == nil {
		t.Fatalf("expected token to expire after its ttl")
	}
}

func TestTokenIssuerRejectsInvalidInput(t *testing.T) {
	testCases := []struct {
		name string
		cfg  TokenIssuerConfig
	}{
		{name: "missing secret", cfg: TokenIssuerConfig{Issuer: "i", TokenTTL: time.Minute}},
		{name: "missing issuer", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: " ", TokenTTL: time.Minute}},
		{name: "zero ttl", cfg: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "i"}},
	}
	for _, testCase := range testCases {
		if _, err := NewTokenIssuer(testCase.cfg); err == nil {
			t.Fatalf("%s: expected constructor error", testCase.name)
		}
	}

	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "i", TokenTTL: time.Minute})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.Issue(Principal{Subject: " "}); err == nil {
		t.Fatalf("expected error for blank subject")
	}
}
