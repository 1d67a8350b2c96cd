package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// Claims are the JWT claims carried by an operator token.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ContextKey type for context keys
type ContextKey string

const (
	ContextName     ContextKey = "auth_name"
	ContextRole     ContextKey = "auth_role"
	ContextKeyID    ContextKey = "api_key_id"
	ContextScopes   ContextKey = "api_key_scopes"
	ContextAuthType ContextKey = "auth_type"
)

// AuthType constants
const (
	AuthTypeJWT    = "jwt"
	AuthTypeAPIKey = "api_key"
)

// APIKeyValidator authenticates a raw API key. Hashing and lookup live
// behind it so the middleware never sees the salt.
type APIKeyValidator func(ctx context.Context, rawKey string) (*domain.APIKey, error)

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}

func abortForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
		Error:   "forbidden",
		Message: message,
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// parseOperatorToken validates an HS256-signed operator token.
func parseOperatorToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, domain.ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}

// JWTAuth returns middleware for operator token authentication.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "missing or malformed authorization header")
			return
		}

		claims, err := parseOperatorToken(tokenString, secret)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(string(ContextName), claims.Name)
		c.Set(string(ContextRole), claims.Role)
		c.Set(string(ContextAuthType), AuthTypeJWT)

		c.Next()
	}
}

// APIKeyAuth returns middleware for ingest key authentication. Keys are
// presented in X-API-Key or under an "Api-Key" Authorization scheme.
func APIKeyAuth(validator APIKeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader("X-API-Key")
		if rawKey == "" {
			if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Api-Key ") {
				rawKey = strings.TrimPrefix(header, "Api-Key ")
			}
		}
		if rawKey == "" {
			abortUnauthorized(c, "missing API key")
			return
		}

		key, err := validator(c.Request.Context(), rawKey)
		if err != nil {
			abortUnauthorized(c, "invalid API key")
			return
		}

		c.Set(string(ContextKeyID), key.ID.String())
		c.Set(string(ContextScopes), key.Scopes)
		c.Set(string(ContextAuthType), AuthTypeAPIKey)

		c.Next()
	}
}

// CombinedAuth allows either an operator token or an API key.
func CombinedAuth(jwtSecret string, validator APIKeyValidator) gin.HandlerFunc {
	jwtAuth := JWTAuth(jwtSecret)
	apiKeyAuth := APIKeyAuth(validator)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if c.GetHeader("X-API-Key") != "" || strings.HasPrefix(header, "Api-Key ") {
			apiKeyAuth(c)
			return
		}
		jwtAuth(c)
	}
}

// RequireScope gates a route on an API key scope. Operator tokens pass
// unconditionally, and a key issued without scopes grants everything.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(string(ContextAuthType)) == AuthTypeJWT {
			c.Next()
			return
		}

		scopes, ok := c.Get(string(ContextScopes))
		if !ok {
			abortForbidden(c, "insufficient permissions")
			return
		}
		scopeList, ok := scopes.([]string)
		if !ok {
			abortForbidden(c, "invalid scopes")
			return
		}

		if len(scopeList) == 0 {
			c.Next()
			return
		}
		for _, s := range scopeList {
			if s == scope || s == "*" {
				c.Next()
				return
			}
		}

		abortForbidden(c, "insufficient permissions for scope: "+scope)
	}
}
