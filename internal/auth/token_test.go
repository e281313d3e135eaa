package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndValidate(t *testing.T) {
	tok, err := IssueToken("secret", "user-1", "a@b.test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ValidateToken(tok, "secret")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@b.test" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if _, err := ValidateToken(tok, "other"); err == nil {
		t.Error("expected signature error with wrong secret")
	}
}

func TestValidate_RejectsExpiredAndForeignIssuer(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	s, _ := expired.SignedString([]byte("secret"))
	if _, err := ValidateToken(s, "secret"); err == nil {
		t.Error("expected expired token to fail")
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	})
	s, _ = foreign.SignedString([]byte("secret"))
	if _, err := ValidateToken(s, "secret"); err == nil {
		t.Error("expected foreign issuer to fail")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc": true,
		"bearer abc": true,
		"Basic abc":  false,
		"Bearer":     false,
		"":           false,
	}
	for header, ok := range cases {
		_, err := BearerToken(header)
		if (err == nil) != ok {
			t.Errorf("%q: expected ok=%v, got err %v", header, ok, err)
		}
	}
}
