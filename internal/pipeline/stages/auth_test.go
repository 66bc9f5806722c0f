package stages

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
)

const testSecret = "test-signing-secret"

func signedToken(t *testing.T, secret string, claims identityClaims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthDevModeTrustsUserID(t *testing.T) {
	stage := NewAuth(config.AuthConfig{}, observability.NopLogger())
	pc := basePC()

	if err := stage.Run(context.Background(), pc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.User == nil || pc.User.ID != "u1" {
		t.Fatalf("user = %+v", pc.User)
	}
}

func TestAuthDevModeRequiresUserID(t *testing.T) {
	stage := NewAuth(config.AuthConfig{}, observability.NopLogger())
	pc := basePC()
	pc.Request.UserID = ""

	err := stage.Run(context.Background(), pc, nil)
	if pipeline.KindOf(err) != pipeline.KindAuthDenied {
		t.Fatalf("kind = %s, want auth_denied", pipeline.KindOf(err))
	}
}

func TestAuthValidTokenResolvesIdentity(t *testing.T) {
	stage := NewAuth(config.AuthConfig{
		JWTSecret:   testSecret,
		AdminGroups: []string{"platform-admins"},
	}, observability.NopLogger())

	pc := basePC()
	pc.Request.UserID = ""
	pc.Request.BearerToken = signedToken(t, testSecret, identityClaims{
		Email:  "dev@example.com",
		Groups: []string{"platform-admins", "engineers"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "u42",
		},
	})

	if err := stage.Run(context.Background(), pc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pc.User.ID != "u42" {
		t.Fatalf("user id = %q, want u42", pc.User.ID)
	}
	if !pc.User.IsAdmin {
		t.Fatal("group membership should grant admin")
	}
	if pc.Request.UserID != "u42" {
		t.Fatalf("request user id = %q, want token subject", pc.Request.UserID)
	}
}

func TestAuthRejectsBadSignature(t *testing.T) {
	stage := NewAuth(config.AuthConfig{JWTSecret: testSecret}, observability.NopLogger())
	pc := basePC()
	pc.Request.BearerToken = signedToken(t, "some-other-secret", identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})

	err := stage.Run(context.Background(), pc, nil)
	if pipeline.KindOf(err) != pipeline.KindAuthDenied {
		t.Fatalf("kind = %s, want auth_denied", pipeline.KindOf(err))
	}
}

func TestAuthRejectsSubjectMismatch(t *testing.T) {
	stage := NewAuth(config.AuthConfig{JWTSecret: testSecret}, observability.NopLogger())
	pc := basePC()
	pc.Request.UserID = "someone-else"
	pc.Request.BearerToken = signedToken(t, testSecret, identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})

	err := stage.Run(context.Background(), pc, nil)
	if pipeline.KindOf(err) != pipeline.KindAuthDenied {
		t.Fatalf("kind = %s, want auth_denied", pipeline.KindOf(err))
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	stage := NewAuth(config.AuthConfig{JWTSecret: testSecret}, observability.NopLogger())
	pc := basePC()
	pc.Request.BearerToken = ""

	err := stage.Run(context.Background(), pc, nil)
	if pipeline.KindOf(err) != pipeline.KindAuthDenied {
		t.Fatalf("kind = %s, want auth_denied", pipeline.KindOf(err))
	}
}
