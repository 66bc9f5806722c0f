// Package stages contains the leaf pipeline stages in execution order:
// auth, memory, mcp, context, tieredfc, route, llm, persist, metrics.
package stages

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/pkg/models"
)

// identityClaims is the token payload the gateway understands.
type identityClaims struct {
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Groups  []string `json:"groups"`
	IsAdmin bool     `json:"is_admin"`
	jwt.RegisteredClaims
}

// Auth resolves the turn's identity from the bearer token. Failure is
// fatal; nothing downstream runs unauthenticated.
type Auth struct {
	pipeline.BaseStage
	secret      []byte
	adminGroups map[string]struct{}
	logger      *observability.Logger
}

// NewAuth creates the auth stage. An empty secret disables token
// verification and trusts the request's user id (single-tenant dev mode).
func NewAuth(cfg config.AuthConfig, logger *observability.Logger) *Auth {
	admins := make(map[string]struct{}, len(cfg.AdminGroups))
	for _, g := range cfg.AdminGroups {
		admins[g] = struct{}{}
	}
	return &Auth{secret: []byte(cfg.JWTSecret), adminGroups: admins, logger: logger}
}

func (s *Auth) Name() string                   { return "auth" }
func (s *Auth) Policy() pipeline.FailurePolicy { return pipeline.Fatal }

func (s *Auth) Run(ctx context.Context, pc *pipeline.PipelineContext, _ *pipeline.EventStream) error {
	req := pc.Request

	if len(s.secret) == 0 {
		if req.UserID == "" {
			return pipeline.Errf(pipeline.KindAuthDenied, "missing user identity", nil)
		}
		pc.User = &models.User{ID: req.UserID}
		return nil
	}

	if req.BearerToken == "" {
		return pipeline.Errf(pipeline.KindAuthDenied, "missing bearer token", nil)
	}

	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(req.BearerToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return pipeline.Errf(pipeline.KindAuthDenied, "invalid bearer token", err)
	}
	if claims.Subject == "" {
		return pipeline.Errf(pipeline.KindAuthDenied, "token missing subject", nil)
	}
	if req.UserID != "" && req.UserID != claims.Subject {
		return pipeline.Errf(pipeline.KindAuthDenied, "token subject does not match request user", nil)
	}

	admin := claims.IsAdmin
	for _, g := range claims.Groups {
		if _, ok := s.adminGroups[g]; ok {
			admin = true
		}
	}
	pc.User = &models.User{
		ID:      claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Groups:  claims.Groups,
		IsAdmin: admin,
	}
	pc.Request.UserID = claims.Subject
	return nil
}
