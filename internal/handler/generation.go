package handler

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/store"
	"github.com/tubepost/api/pkg/response"
)

const maxNotifications = 50

// BadgeReader reads the current badge
type BadgeReader interface {
	Badge(ctx context.Context) (model.Badge, error)
}

// NotificationReader lists recent notifications, newest first
type NotificationReader interface {
	Recent(ctx context.Context, limit int64) ([]model.Notification, error)
}

type GenerationHandler struct {
	store         store.Store
	sender        command.Sender
	badges        BadgeReader
	notifications NotificationReader
	validator     *validator.Validate
	log           *logrus.Entry
}

func NewGenerationHandler(st store.Store, sender command.Sender, badges BadgeReader, notifications NotificationReader, v *validator.Validate, log logrus.FieldLogger) *GenerationHandler {
	return &GenerationHandler{
		store:         st,
		sender:        sender,
		badges:        badges,
		notifications: notifications,
		validator:     v,
		log:           logger.Component(log, "generation-handler"),
	}
}

// State handles GET /api/generation/state
func (h *GenerationHandler) State(c *fiber.Ctx) error {
	state, err := h.store.Read(c.UserContext())
	if err != nil {
		h.log.WithError(err).Error("failed to read state")
		return response.ServiceError(c, "Failed to read generation state")
	}
	return response.OK(c, state)
}

// Badge handles GET /api/generation/badge
func (h *GenerationHandler) Badge(c *fiber.Ctx) error {
	badge, err := h.badges.Badge(c.UserContext())
	if err != nil {
		h.log.WithError(err).Error("failed to read badge")
		return response.ServiceError(c, "Failed to read badge")
	}
	return response.OK(c, badge)
}

// Notifications handles GET /api/generation/notifications?limit=n
func (h *GenerationHandler) Notifications(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 10))
	if limit <= 0 || limit > maxNotifications {
		return response.ValidationError(c, "limit must be between 1 and "+strconv.Itoa(maxNotifications), nil)
	}

	notes, err := h.notifications.Recent(c.UserContext(), limit)
	if err != nil {
		h.log.WithError(err).Error("failed to read notifications")
		return response.ServiceError(c, "Failed to read notifications")
	}
	if notes == nil {
		notes = []model.Notification{}
	}
	return response.OK(c, notes)
}

// Start handles POST /api/generation/start
func (h *GenerationHandler) Start(c *fiber.Ctx) error {
	var req model.StartGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	taskID, err := h.sender.StartGeneration(c.UserContext(), req.URL)
	if err != nil {
		h.log.WithError(err).Error("failed to send start command")
		return response.ServiceError(c, "Failed to start generation")
	}

	return response.Accepted(c, model.CommandAcceptedResponse{
		Accepted: true,
		Action:   model.ActionStartGeneration,
		TaskID:   taskID,
	})
}

// Reset handles POST /api/generation/reset
func (h *GenerationHandler) Reset(c *fiber.Ctx) error {
	taskID, err := h.sender.Reset(c.UserContext())
	if err != nil {
		h.log.WithError(err).Error("failed to send reset command")
		return response.ServiceError(c, "Failed to reset generation")
	}

	return response.Accepted(c, model.CommandAcceptedResponse{
		Accepted: true,
		Action:   model.ActionReset,
		TaskID:   taskID,
	})
}
