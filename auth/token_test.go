package auth

import (
	"testing"
	"time"
)

func TestTokenCodecRoundTrip(t *testing.T) {
	codec := NewTokenCodec("signing-key", time.Hour)

	token, err := codec.Mint("user_000001")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID() != "user_000001" {
		t.Fatalf("expected subject user_000001, got %s", claims.UserID())
	}
}

func TestTokenCodecRejectsExpired(t *testing.T) {
	codec := NewTokenCodec("signing-key", -time.Minute)

	token, err := codec.Mint("user_000001")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := codec.Verify(token); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestTokenCodecRejectsBadSignature(t *testing.T) {
	codec := NewTokenCodec("signing-key", time.Hour)
	other := NewTokenCodec("different-key", time.Hour)

	token, err := codec.Mint("user_000001")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := other.Verify(token); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for wrong signing key, got %v", err)
	}
}
