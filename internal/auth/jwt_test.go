package auth

import (
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewManager("test-secret")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, expiresAt, err := m.GenerateToken("client-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if token == "" {
		t.Fatal("generated empty token")
	}
	if expiresAt.IsZero() {
		t.Fatal("missing expiry")
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("client id = %q, want client-1", claims.ClientID)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewManager("secret-a")
	verifier, _ := NewManager("secret-b")

	token, _, err := issuer.GenerateToken("client-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Error("token signed with a different secret was accepted")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	m, _ := NewManager("test-secret")
	if _, err := m.ValidateToken("not.a.token"); err == nil {
		t.Error("garbage token was accepted")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(""); err == nil {
		t.Error("empty secret was accepted")
	}
}
