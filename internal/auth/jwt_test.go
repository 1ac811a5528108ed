package auth

import (
	"testing"
	"time"
)

func testUser() *User {
	return &User{
		ID:       "11111111-1111-1111-1111-111111111111",
		Username: "alice",
		Email:    "alice@example.com",
		FullName: "Alice Example",
		Avatar:   "https://cdn.example.com/media/avatars/a.png",
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("access-secret", time.Minute, testUser())
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}

	claims, err := ValidateAccessToken("access-secret", token)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}

	if claims.UserID != testUser().ID {
		t.Errorf("unexpected userId %q", claims.UserID)
	}
	if claims.Username != "alice" || claims.Email != "alice@example.com" || claims.FullName != "Alice Example" {
		t.Errorf("identity claims not carried: %+v", claims)
	}
}

func TestRefreshTokenCarriesOnlyUserID(t *testing.T) {
	token, err := GenerateRefreshToken("refresh-secret", time.Minute, testUser().ID)
	if err != nil {
		t.Fatalf("generate refresh token: %v", err)
	}

	claims, err := ValidateRefreshToken("refresh-secret", token)
	if err != nil {
		t.Fatalf("validate refresh token: %v", err)
	}
	if claims.UserID != testUser().ID {
		t.Errorf("unexpected userId %q", claims.UserID)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := GenerateAccessToken("access-secret", time.Minute, testUser())
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}

	if _, err := ValidateAccessToken("other-secret", token); err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestSecretsAreIndependent(t *testing.T) {
	// An access token must not verify against the refresh secret.
	token, err := GenerateAccessToken("access-secret", time.Minute, testUser())
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}

	if _, err := ValidateAccessToken("refresh-secret", token); err == nil {
		t.Error("expected access token to fail under the refresh secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	token, err := GenerateAccessToken("access-secret", -time.Minute, testUser())
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}

	if _, err := ValidateAccessToken("access-secret", token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if _, err := ValidateAccessToken("access-secret", "not-a-token"); err == nil {
		t.Error("expected error for malformed token")
	}
}
