// Package middleware provides the fiber middleware stack: identity-token
// authentication, request context and logging, tracing and rate limiting.
package middleware

import (
	"strings"

	"fetch/internal/models"
	"fetch/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Locals keys set by the auth middleware.
const (
	LocalUserID        = "userID"
	LocalEmailVerified = "emailVerified"
)

// Identity is what the identity provider asserts about the caller.
type Identity struct {
	UserID        string
	EmailVerified bool
}

// ParseToken verifies an HMAC-signed identity token and extracts the caller.
// Tokens are issued by the identity provider; this service only verifies them.
func ParseToken(tokenString, secret string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, models.NewUnauthorizedError("invalid signing method")
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, models.NewUnauthorizedError("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, models.NewUnauthorizedError("invalid token claims")
	}

	// "sub" carries the account id (RFC 7519 subject).
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, models.NewUnauthorizedError("invalid token structure - missing subject")
	}
	if err := models.ValidateAccountID(sub); err != nil {
		return nil, models.NewUnauthorizedError("invalid subject in token")
	}

	verified, _ := claims["email_verified"].(bool)
	return &Identity{UserID: sub, EmailVerified: verified}, nil
}

// AuthRequired enforces a bearer identity token on protected routes.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := bearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, err)
		}
		return authenticate(c, token, secret)
	}
}

// WebSocketAuthRequired accepts the token from the "token" query parameter,
// which browsers can set on a websocket upgrade, falling back to the
// Authorization header.
func WebSocketAuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			var err error
			if token, err = bearerToken(c.Get(fiber.HeaderAuthorization)); err != nil {
				return models.RespondWithError(c, fiber.StatusUnauthorized, err)
			}
		}
		return authenticate(c, token, secret)
	}
}

func authenticate(c *fiber.Ctx, token, secret string) error {
	identity, err := ParseToken(token, secret)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}
	c.Locals(LocalUserID, identity.UserID)
	c.Locals(LocalEmailVerified, identity.EmailVerified)
	c.SetUserContext(observability.WithUserID(c.UserContext(), identity.UserID))
	return c.Next()
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", models.NewUnauthorizedError("Authorization header required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", models.NewUnauthorizedError("Invalid authorization header format")
	}
	return token, nil
}

// UserID returns the authenticated account id, or "" on public routes.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// EmailVerified reports the identity provider's email_verified claim.
func EmailVerified(c *fiber.Ctx) bool {
	v, _ := c.Locals(LocalEmailVerified).(bool)
	return v
}
