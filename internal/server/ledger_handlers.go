package server

import (
	"fetch/internal/middleware"
	"fetch/internal/models"
	"fetch/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendGiftRequest is the body of POST /api/gifts.
type SendGiftRequest struct {
	ToID    string `json:"to_id"`
	Amount  int64  `json:"amount"`
	Message string `json:"message"`
}

// SendGift handles POST /api/gifts
func (s *Server) SendGift(c *fiber.Ctx) error {
	var req SendGiftRequest
	if !parseBody(c, &req) {
		return nil
	}

	result, err := s.ledger.Transfer(c.UserContext(), service.TransferInput{
		FromID:  middleware.UserID(c),
		ToID:    req.ToID,
		Amount:  req.Amount,
		Message: req.Message,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"entry":   result.Entry,
		"balance": result.Sender.Balance,
	})
}

// GetHistory handles GET /api/ledger/history
func (s *Server) GetHistory(c *fiber.Ctx) error {
	entries, err := s.ledger.History(c.UserContext(), middleware.UserID(c), parseLimit(c, defaultListLimit))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entries)
}

// GetEntry handles GET /api/ledger/entries/:id. Entries are only visible to
// their participants; anyone else gets a 404.
func (s *Server) GetEntry(c *fiber.Ctx) error {
	id := param(c, "id")
	entry, err := s.ledger.GetEntry(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}

	userID := middleware.UserID(c)
	isSender := entry.FromAccountID != nil && *entry.FromAccountID == userID
	if !isSender && entry.ToAccountID != userID {
		return respondError(c, models.NewNotFoundError("Ledger entry", id))
	}
	return c.JSON(entry)
}

// GetFeed handles GET /api/feed
func (s *Server) GetFeed(c *fiber.Ctx) error {
	items, err := s.ledger.Feed(c.UserContext(), middleware.UserID(c), parseLimit(c, defaultListLimit))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(items)
}
