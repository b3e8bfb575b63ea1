package server

import (
	"fetch/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// SendFriendRequest handles POST /api/friends/requests/:userId
func (s *Server) SendFriendRequest(c *fiber.Ctx) error {
	edge, err := s.friends.SendRequest(c.UserContext(), middleware.UserID(c), param(c, "userId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(edge)
}

// AcceptFriendRequest handles POST /api/friends/requests/:edgeId/accept
func (s *Server) AcceptFriendRequest(c *fiber.Ctx) error {
	edge, err := s.friends.Accept(c.UserContext(), param(c, "edgeId"), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(edge)
}

// ListIncomingRequests handles GET /api/friends/requests/incoming
func (s *Server) ListIncomingRequests(c *fiber.Ctx) error {
	requests, err := s.friends.ListPendingIncoming(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(requests)
}

// ListOutgoingRequests handles GET /api/friends/requests/outgoing
func (s *Server) ListOutgoingRequests(c *fiber.Ctx) error {
	requests, err := s.friends.ListPendingOutgoing(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(requests)
}

// ListFriends handles GET /api/friends
func (s *Server) ListFriends(c *fiber.Ctx) error {
	friends, err := s.friends.ListFriends(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	out := make([]PublicAccount, 0, len(friends))
	for i := range friends {
		out = append(out, toPublicAccount(&friends[i]))
	}
	return c.JSON(out)
}

// GetFriendshipStatus handles GET /api/friends/status/:userId
func (s *Server) GetFriendshipStatus(c *fiber.Ctx) error {
	status, edge, err := s.friends.Status(c.UserContext(), middleware.UserID(c), param(c, "userId"))
	if err != nil {
		return respondError(c, err)
	}
	resp := fiber.Map{"status": status}
	if edge != nil {
		resp["friendship"] = edge
	}
	return c.JSON(resp)
}

// RemoveFriend handles DELETE /api/friends/:userId
func (s *Server) RemoveFriend(c *fiber.Ctx) error {
	if err := s.friends.Remove(c.UserContext(), middleware.UserID(c), param(c, "userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// BlockUser handles POST /api/friends/:userId/block
func (s *Server) BlockUser(c *fiber.Ctx) error {
	edge, err := s.friends.Block(c.UserContext(), middleware.UserID(c), param(c, "userId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(edge)
}
