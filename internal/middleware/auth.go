// Package middleware provides Gin HTTP middleware for authentication, policy
// gating, rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any
// crypto or DB work. Auth resolves the actor context; handlers evaluate policy
// against it. Audit logging runs last so the recorded status code is final.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/db/repositories"
)

// ActorContextKey is the gin.Context key under which the resolved
// *auth.ActorContext is stored.
const ActorContextKey = "actor"

// CurrentActor retrieves the resolved actor from the request context. The
// second return is false on unauthenticated requests, which can only occur on
// routes registered outside the auth chain.
func CurrentActor(c *gin.Context) (*auth.ActorContext, bool) {
	v, ok := c.Get(ActorContextKey)
	if !ok {
		return nil, false
	}
	actor, ok := v.(*auth.ActorContext)
	return actor, ok
}

// AuthMiddleware authenticates requests via JWT or API key and stores the
// resolved ActorContext. JWT resolution is entirely stateless: org role and
// workflow roles travel inside the token, so the hot path does no database
// work. API keys pay for a prefix lookup plus a bcrypt comparison.
func AuthMiddleware(apiKeyRepo *repositories.APIKeyRepository, projectRepo *repositories.ProjectRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed authorization header",
			})
			return
		}

		// Stateless JWT path first.
		if actor, err := auth.ResolveActor(token); err == nil {
			c.Set(ActorContextKey, actor)
			c.Set("actor_id", actor.UserID)
			c.Set("organization_id", actor.OrganizationID)
			c.Set("auth_method", "jwt")
			c.Next()
			return
		}

		// API key path. Only the bcrypt hash is stored; the plaintext prefix
		// narrows the candidate to one indexed row before the hash comparison.
		actor := resolveAPIKeyActor(c.Request.Context(), token, apiKeyRepo, projectRepo)
		if actor == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid credentials",
			})
			return
		}

		c.Set(ActorContextKey, actor)
		c.Set("actor_id", actor.UserID)
		c.Set("organization_id", actor.OrganizationID)
		c.Set("auth_method", "api_key")
		c.Next()
	}
}

func resolveAPIKeyActor(ctx context.Context, token string, apiKeyRepo *repositories.APIKeyRepository, projectRepo *repositories.ProjectRepository) *auth.ActorContext {
	if apiKeyRepo == nil {
		return nil
	}

	prefix := token
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}

	key, err := apiKeyRepo.GetByPrefix(ctx, prefix)
	if err != nil || key == nil {
		return nil
	}
	if !auth.ValidateAPIKey(token, key.KeyHash) {
		return nil
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil
	}

	// Last-used tracking is best-effort; a failed update never blocks the
	// request.
	go func(keyID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiKeyRepo.UpdateLastUsed(ctx, keyID)
	}(key.ID)

	actor := auth.ActorFromAPIKey(key)

	// Keys linked to a user act with that user's workflow roles so service
	// integrations can drive transitions on their behalf.
	if key.UserID != nil && projectRepo != nil {
		if roles, err := projectRepo.GetUserRoles(ctx, key.OrganizationID, *key.UserID); err == nil {
			actor.WorkflowRoles = roles
		}
	}

	return actor
}
