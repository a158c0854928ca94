package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/exchangeset/orchestrator/internal/auth"
	"github.com/exchangeset/orchestrator/internal/middleware"
)

// AuthHandler answers forward-auth checks from the API gateway
type AuthHandler struct {
	verifier auth.TokenVerifier
}

func NewAuthHandler(verifier auth.TokenVerifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify. It returns 200 with X-User-* headers
// on success and 401 otherwise.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok || h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.verifier.Validate(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set(middleware.HeaderUserID, claims.UserID)
	c.Set(middleware.HeaderUserEmail, claims.Email)
	c.Set(middleware.HeaderUserName, claims.Name)
	if len(claims.Roles) > 0 {
		c.Set(middleware.HeaderUserRoles, strings.Join(claims.Roles, ","))
	}
	return c.SendStatus(fiber.StatusOK)
}
