package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/models"
)

const IdentityContextKey = "identity"

type AuthConfig struct {
	JWTSecret []byte
	// TrustGatewayHeaders accepts X-User-ID / X-User-Role set by an upstream
	// gateway that already authenticated the caller.
	TrustGatewayHeaders bool
}

// Authenticate resolves the caller from a bearer token or, when trusted, the
// gateway headers. Requests without a usable identity are rejected with 401.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := resolveIdentity(c, cfg)
		if err != nil {
			appErr := apperrors.Unauthorized(err.Error())
			c.AbortWithStatusJSON(appErr.Code, appErr.Body())
			return
		}
		c.Set(IdentityContextKey, identity)
		c.Next()
	}
}

// RequireStaff must run after Authenticate.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok || !identity.IsStaff() {
			appErr := apperrors.Forbidden("Staff access required")
			c.AbortWithStatusJSON(http.StatusForbidden, appErr.Body())
			return
		}
		c.Next()
	}
}

func GetIdentity(c *gin.Context) (models.Identity, bool) {
	if v, ok := c.Get(IdentityContextKey); ok {
		if identity, ok := v.(models.Identity); ok && identity.UserID != uuid.Nil {
			return identity, true
		}
	}
	return models.Identity{}, false
}

func resolveIdentity(c *gin.Context, cfg AuthConfig) (models.Identity, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return models.Identity{}, errors.New("Invalid authorization header")
		}
		return ParseToken(cfg.JWTSecret, strings.TrimSpace(token))
	}

	if cfg.TrustGatewayHeaders {
		if raw := c.GetHeader("X-User-ID"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return models.Identity{}, errors.New("Invalid user id")
			}
			return models.Identity{
				UserID: id,
				Role:   normalizeRole(c.GetHeader("X-User-Role")),
				Email:  c.GetHeader("X-User-Email"),
			}, nil
		}
	}
	return models.Identity{}, errors.New("Unauthorized")
}

// ParseToken validates an HMAC-signed JWT and maps its claims onto an Identity.
// The user id is read from "user_id", falling back to "sub".
func ParseToken(secret []byte, tokenStr string) (models.Identity, error) {
	if len(secret) == 0 {
		return models.Identity{}, errors.New("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return models.Identity{}, errors.New("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, errors.New("Invalid token claims")
	}

	raw, _ := claims["user_id"].(string)
	if raw == "" {
		raw, _ = claims["sub"].(string)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return models.Identity{}, errors.New("Invalid token subject")
	}

	role, _ := claims["role"].(string)
	email, _ := claims["email"].(string)
	return models.Identity{UserID: id, Role: normalizeRole(role), Email: email}, nil
}

func normalizeRole(role string) string {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case models.RoleAdmin, models.RoleStaff:
		return r
	}
	return models.RoleCustomer
}
