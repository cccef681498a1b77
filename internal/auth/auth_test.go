package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret, subject, issuer string, expiresAt time.Time) string {
	t.Helper()

	c := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if issuer != "" {
		c.Issuer = issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestVerifier_OwnerID(t *testing.T) {
	owner := uuid.New()

	t.Run("accepts a valid token", func(t *testing.T) {
		v := NewVerifier(testSecret, "")
		token := signToken(t, testSecret, owner.String(), "", time.Now().Add(time.Hour))

		got, err := v.OwnerID(token)
		if err != nil {
			t.Fatalf("OwnerID() unexpected error: %v", err)
		}
		if got != owner {
			t.Errorf("OwnerID() = %s, want %s", got, owner)
		}
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		v := NewVerifier(testSecret, "")
		token := signToken(t, "another-secret-another-secret!!", owner.String(), "", time.Now().Add(time.Hour))

		if _, err := v.OwnerID(token); err == nil {
			t.Error("OwnerID() expected error for wrong secret")
		}
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		v := NewVerifier(testSecret, "")
		token := signToken(t, testSecret, owner.String(), "", time.Now().Add(-time.Hour))

		if _, err := v.OwnerID(token); err == nil {
			t.Error("OwnerID() expected error for expired token")
		}
	})

	t.Run("rejects a non-UUID subject", func(t *testing.T) {
		v := NewVerifier(testSecret, "")
		token := signToken(t, testSecret, "alice", "", time.Now().Add(time.Hour))

		if _, err := v.OwnerID(token); err == nil {
			t.Error("OwnerID() expected error for non-UUID subject")
		}
	})

	t.Run("enforces issuer when configured", func(t *testing.T) {
		v := NewVerifier(testSecret, "accounts.example.com")

		token := signToken(t, testSecret, owner.String(), "someone-else", time.Now().Add(time.Hour))
		if _, err := v.OwnerID(token); err == nil {
			t.Error("OwnerID() expected error for wrong issuer")
		}

		token = signToken(t, testSecret, owner.String(), "accounts.example.com", time.Now().Add(time.Hour))
		if _, err := v.OwnerID(token); err != nil {
			t.Errorf("OwnerID() unexpected error for matching issuer: %v", err)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		v := NewVerifier(testSecret, "")
		if _, err := v.OwnerID("not-a-jwt"); err == nil {
			t.Error("OwnerID() expected error for garbage input")
		}
	})
}

func TestVerifier_Require(t *testing.T) {
	owner := uuid.New()
	v := NewVerifier(testSecret, "")

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := OwnerFromContext(r.Context())
		if !ok {
			t.Error("owner missing from context")
		}
		if got != owner {
			t.Errorf("owner = %s, want %s", got, owner)
		}
		w.WriteHeader(http.StatusOK)
	})

	t.Run("passes through with valid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/links", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, owner.String(), "", time.Now().Add(time.Hour)))

		rec := httptest.NewRecorder()
		v.Require(okHandler).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("rejects missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		v.Require(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/links", nil))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("rejects malformed scheme", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/links", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

		rec := httptest.NewRecorder()
		v.Require(okHandler).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("rejects invalid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/links", nil)
		req.Header.Set("Authorization", "Bearer bogus")

		rec := httptest.NewRecorder()
		v.Require(okHandler).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestVerifier_Optional(t *testing.T) {
	owner := uuid.New()
	v := NewVerifier(testSecret, "")

	t.Run("anonymous without token", func(t *testing.T) {
		var sawOwner bool
		handler := v.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, sawOwner = OwnerFromContext(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/links", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if sawOwner {
			t.Error("anonymous request should not carry an owner")
		}
	})

	t.Run("attaches owner with valid token", func(t *testing.T) {
		var got uuid.UUID
		handler := v.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = OwnerFromContext(r.Context())
		}))

		req := httptest.NewRequest("POST", "/api/links", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, owner.String(), "", time.Now().Add(time.Hour)))

		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got != owner {
			t.Errorf("owner = %s, want %s", got, owner)
		}
	})

	t.Run("still rejects an invalid token", func(t *testing.T) {
		handler := v.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run for invalid token")
		}))

		req := httptest.NewRequest("POST", "/api/links", nil)
		req.Header.Set("Authorization", "Bearer bogus")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}
