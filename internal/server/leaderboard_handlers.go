package server

import (
	"fetch/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// GetLeaderboard handles GET /api/leaderboard
func (s *Server) GetLeaderboard(c *fiber.Ctx) error {
	entries, err := s.ranking.Leaderboard(c.UserContext(), parseLimit(c, defaultListLimit))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entries)
}

// GetMyRank handles GET /api/leaderboard/me
func (s *Server) GetMyRank(c *fiber.Ctx) error {
	rank, err := s.ranking.RankOf(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"rank": rank})
}
