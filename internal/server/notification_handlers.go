package server

import (
	"fetch/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// ListNotifications handles GET /api/notifications?unread=true
func (s *Server) ListNotifications(c *fiber.Ctx) error {
	items, err := s.notifications.List(c.UserContext(), middleware.UserID(c),
		parseLimit(c, defaultListLimit), c.QueryBool("unread", false))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(items)
}

// UnreadCount handles GET /api/notifications/unread-count
func (s *Server) UnreadCount(c *fiber.Ctx) error {
	count, err := s.notifications.UnreadCount(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"unread": count})
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	if err := s.notifications.MarkRead(c.UserContext(), param(c, "id"), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	n, err := s.notifications.MarkAllRead(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"updated": n})
}
