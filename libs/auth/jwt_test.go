package auth

import (
	"testing"
	"time"
)

func TestSignAndVerifyHS256(t *testing.T) {
	claims := Claims{
		Sub:      "doctor-1",
		ClinicID: "clinic-9",
		Role:     "doctor",
		Iat:      time.Now().Unix(),
		Exp:      time.Now().Add(time.Hour).Unix(),
	}

	token, err := SignHS256(claims, "s3cret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := ParseAndVerifyHS256(token, "s3cret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Sub != claims.Sub || got.Role != claims.Role || got.ClinicID != claims.ClinicID {
		t.Fatalf("claims mismatch: %+v", got)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := SignHS256(Claims{Sub: "x", Exp: time.Now().Add(time.Hour).Unix()}, "right")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong"); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	token, err := SignHS256(Claims{Sub: "x", Exp: time.Now().Add(-time.Minute).Unix()}, "k")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "k"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
