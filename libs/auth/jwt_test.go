package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret = []byte("secret")

func signClaims(t *testing.T, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(jwtSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseJWTAcceptsOperatorToken(t *testing.T) {
	token := signClaims(t, jwt.SigningMethodHS256, Claims{
		Roles: []string{"user", RoleAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	claims, err := ParseJWT(token, jwtSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "ops-1" || !claims.HasRole(RoleAdmin) || claims.HasRole("auditor") {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseJWTRejections(t *testing.T) {
	expiry := jwt.NewNumericDate(time.Now().Add(time.Hour))
	cases := []struct {
		name  string
		token string
		want  error
	}{
		{
			name:  "no subject",
			token: signClaims(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: expiry}}),
			want:  ErrMissingSubject,
		},
		{
			name:  "no expiry",
			token: signClaims(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}),
			want:  ErrInvalidToken,
		},
		{
			name: "expired beyond skew",
			token: signClaims(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			}}),
			want: ErrInvalidToken,
		},
		{
			name:  "other algorithm",
			token: signClaims(t, jwt.SigningMethodHS512, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: expiry}}),
			want:  ErrInvalidToken,
		},
		{
			name:  "garbage",
			token: "not-a-jwt",
			want:  ErrInvalidToken,
		},
	}
	for _, tc := range cases {
		if _, err := ParseJWT(tc.token, jwtSecret); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestParseJWTToleratesClockSkew(t *testing.T) {
	token := signClaims(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
	}})
	if _, err := ParseJWT(token, jwtSecret); err != nil {
		t.Fatalf("expected token within skew to parse, got %v", err)
	}
}

func TestHasRoleOnNilClaims(t *testing.T) {
	var claims *Claims
	if claims.HasRole(RoleAdmin) {
		t.Fatalf("nil claims must not carry roles")
	}
}
