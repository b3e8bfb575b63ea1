package server

import (
	"strings"
	"time"

	"fetch/internal/middleware"
	"fetch/internal/models"
	"fetch/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateAccountRequest is the body of POST /api/accounts. The account id is
// always the caller's token subject.
type CreateAccountRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// PublicAccount is what other users may see of an account.
type PublicAccount struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Username        string    `json:"username"`
	TotalGifted     int64     `json:"total_gifted"`
	GiftsGiven      int64     `json:"gifts_given"`
	Rank            int       `json:"rank"`
	GenerosityLevel string    `json:"generosity_level"`
	Achievements    []string  `json:"achievements"`
	CreatedAt       time.Time `json:"created_at"`
}

func toPublicAccount(a *models.Account) PublicAccount {
	return PublicAccount{
		ID:              a.ID,
		Name:            a.Name,
		Username:        a.Username,
		TotalGifted:     a.TotalGifted,
		GiftsGiven:      a.GiftsGiven,
		Rank:            a.Rank,
		GenerosityLevel: a.GenerosityLevel,
		Achievements:    a.Achievements,
		CreatedAt:       a.CreatedAt,
	}
}

// CreateAccount handles POST /api/accounts
func (s *Server) CreateAccount(c *fiber.Ctx) error {
	var req CreateAccountRequest
	if !parseBody(c, &req) {
		return nil
	}

	account, err := s.accounts.CreateAccount(c.UserContext(), service.CreateAccountInput{
		ID:            middleware.UserID(c),
		Name:          req.Name,
		Username:      req.Username,
		EmailVerified: middleware.EmailVerified(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

// GetMyAccount handles GET /api/accounts/me
func (s *Server) GetMyAccount(c *fiber.Ctx) error {
	account, err := s.accounts.GetAccount(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(account)
}

// GetAccount handles GET /api/accounts/:id
func (s *Server) GetAccount(c *fiber.Ctx) error {
	account, err := s.accounts.GetAccount(c.UserContext(), param(c, "id"))
	if err != nil {
		return respondError(c, err)
	}
	if account.ID == middleware.UserID(c) {
		return c.JSON(account)
	}
	return c.JSON(toPublicAccount(account))
}

// SearchAccounts handles GET /api/accounts/search?q=
func (s *Server) SearchAccounts(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Search query is required"))
	}

	accounts, err := s.accounts.SearchAccounts(c.UserContext(), q, parseLimit(c, defaultListLimit))
	if err != nil {
		return respondError(c, err)
	}
	out := make([]PublicAccount, 0, len(accounts))
	for i := range accounts {
		out = append(out, toPublicAccount(&accounts[i]))
	}
	return c.JSON(out)
}

// UsernameAvailable handles GET /api/accounts/username-available?u=
func (s *Server) UsernameAvailable(c *fiber.Ctx) error {
	username := c.Query("u")
	available, err := s.accounts.IsUsernameAvailable(c.UserContext(), username)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"username":  models.NormalizeUsername(username),
		"available": available,
	})
}
