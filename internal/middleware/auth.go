package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"foodglow-backend/internal/config"
	"foodglow-backend/internal/models"
)

const (
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
	UserNameKey  = "user_name"
)

var errMissingHeader = errors.New("missing authorization header")

// AuthMiddleware requires a valid Supabase access token.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authenticate(c, cfg); err != nil {
			abortUnauthorized(c, err)
			return
		}
		c.Next()
	}
}

// OptionalAuthMiddleware authenticates when an Authorization header is
// present and lets anonymous requests through. A bad token is still rejected.
func OptionalAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := authenticate(c, cfg)
		if err != nil && !errors.Is(err, errMissingHeader) {
			abortUnauthorized(c, err)
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Kind:    "unauthorized",
		Message: err.Error(),
	})
}

func authenticate(c *gin.Context, cfg *config.Config) error {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return errMissingHeader
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return errors.New("invalid authorization header format")
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return errors.New("empty token")
	}

	// Some clients URL-encode the token
	if decoded, err := url.QueryUnescape(tokenString); err == nil {
		tokenString = decoded
	}

	if len(strings.Split(tokenString, ".")) != 3 {
		return errors.New("invalid token format: JWT token must have 3 parts separated by dots")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Supabase signs access tokens with HS256 and the project JWT secret
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		if cfg.SupabaseJWTSecret == "" {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.SupabaseJWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return errors.New("token signature is invalid - check JWT secret")
		case errors.Is(err, jwt.ErrTokenExpired):
			return errors.New("token has expired")
		case errors.Is(err, jwt.ErrTokenMalformed):
			return errors.New("token is malformed - ensure you're using a valid Supabase JWT token")
		}
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return errors.New("missing user id in token")
	}

	c.Set(UserIDKey, sub)
	if email, ok := claims["email"].(string); ok {
		c.Set(UserEmailKey, email)
	}
	if meta, ok := claims["user_metadata"].(map[string]interface{}); ok {
		for _, key := range []string{"full_name", "name"} {
			if name, ok := meta[key].(string); ok && name != "" {
				c.Set(UserNameKey, name)
				break
			}
		}
	}
	return nil
}
