package http

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"evcharge/internal/domain"
)

const (
	identityKey = "auth_identity"
	tokenKey    = "auth_token"
)

// Gate resuelve tokens bearer a identidades.
type Gate interface {
	Resolve(ctx context.Context, token string) (domain.Identity, error)
	ResolveSession(ctx context.Context, token string) (domain.Identity, error)
}

// Authenticate exige un token válido en el modo configurado del gate.
func Authenticate(gate Gate, logger *zap.Logger) gin.HandlerFunc {
	return authenticate(gate.Resolve, logger)
}

// SessionAuth exige un token respaldado por una sesión activa.
func SessionAuth(gate Gate, logger *zap.Logger) gin.HandlerFunc {
	return authenticate(gate.ResolveSession, logger)
}

func authenticate(resolve func(context.Context, string) (domain.Identity, error), logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			writeError(c, logger, domain.ErrMissingToken)
			c.Abort()
			return
		}
		identity, err := resolve(c.Request.Context(), token)
		if err != nil {
			writeError(c, logger, err)
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// OptionalAuth adjunta la identidad si el token es válido y sigue como
// anónimo en cualquier otro caso.
func OptionalAuth(gate Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if identity, err := gate.Resolve(c.Request.Context(), token); err == nil {
				c.Set(identityKey, identity)
				c.Set(tokenKey, token)
			}
		}
		c.Next()
	}
}

// Require aplica una política sobre la identidad ya resuelta.
func Require(policy domain.Policy, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := GetIdentity(c)
		if err := policy(identity); err != nil {
			writeError(c, logger, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetIdentity obtiene la identidad resuelta desde el contexto.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := val.(domain.Identity)
	return identity, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}
