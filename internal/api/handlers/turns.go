// Package handlers implements the HTTP endpoints of the turn API.
package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/api/middleware"
	"github.com/guiofsaints/procureflow-sub000/internal/commerce"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/orchestrator"
	"github.com/guiofsaints/procureflow-sub000/internal/repository"
)

// TurnRunner executes one turn
type TurnRunner interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResponse, error)
}

// CartSnapshotter exposes the caller's cart for the side channel
type CartSnapshotter interface {
	CartSnapshot(userID string) *commerce.Cart
}

// TurnBody is the POST /turns payload. The user comes from auth.
type TurnBody struct {
	ConversationID string        `json:"conversation_id"`
	Message        string        `json:"message"`
	PriorHistory   []llm.Message `json:"prior_history"`
	SideChannel    any           `json:"side_channel"`
	Provider       string        `json:"provider"`
}

// TurnHandlers handles turn and conversation endpoints
type TurnHandlers struct {
	runner        TurnRunner
	conversations repository.ConversationRepository
	carts         CartSnapshotter
	logger        logrus.FieldLogger
}

// NewTurnHandlers creates turn handlers. conversations and carts may be nil.
func NewTurnHandlers(runner TurnRunner, conversations repository.ConversationRepository, carts CartSnapshotter, logger logrus.FieldLogger) *TurnHandlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TurnHandlers{
		runner:        runner,
		conversations: conversations,
		carts:         carts,
		logger:        logger,
	}
}

// CreateTurn handles POST /api/v1/turns
func (h *TurnHandlers) CreateTurn(c *fiber.Ctx) error {
	var body TurnBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(body.Message) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "message is required")
	}

	ctx := c.UserContext()
	userID := middleware.UserID(c)
	req := orchestrator.TurnRequest{
		ConversationID: body.ConversationID,
		UserID:         userID,
		Message:        body.Message,
		PriorHistory:   body.PriorHistory,
		SideChannel:    body.SideChannel,
		Provider:       body.Provider,
	}

	// Anonymous callers share one ID, so their turns are never stored.
	stored := h.conversations != nil && userID != middleware.AnonymousUser

	if req.ConversationID != "" && stored {
		if err := authorizeConversation(ctx, h.conversations, h.logger, userID, req.ConversationID, true); err != nil {
			return err
		}
		if len(req.PriorHistory) == 0 {
			history, err := h.conversations.Load(ctx, userID, req.ConversationID)
			if err != nil {
				return h.storageError(err, req.ConversationID, "Failed to load conversation")
			}
			req.PriorHistory = history
		}
	}

	if req.SideChannel == nil && h.carts != nil {
		if cart := h.carts.CartSnapshot(userID); cart != nil && len(cart.Lines) > 0 {
			req.SideChannel = cart
		}
	}

	resp, err := h.runner.RunTurn(ctx, req)
	if err != nil {
		return err
	}

	if stored {
		// The turn already happened; store it even if the client went away.
		if err := h.conversations.Append(context.WithoutCancel(ctx), userID, resp.ConversationID, resp.Messages...); err != nil {
			h.logger.WithError(err).WithField("conversation_id", resp.ConversationID).Warn("Failed to store conversation")
		}
	}

	return c.JSON(resp)
}

// GetMessages handles GET /api/v1/conversations/:id/messages
func (h *TurnHandlers) GetMessages(c *fiber.Ctx) error {
	if h.conversations == nil {
		return fiber.NewError(fiber.StatusNotFound, "Conversation storage is disabled")
	}
	ctx := c.UserContext()
	userID := middleware.UserID(c)
	id := c.Params("id")
	if err := authorizeConversation(ctx, h.conversations, h.logger, userID, id, false); err != nil {
		return err
	}
	messages, err := h.conversations.Load(ctx, userID, id)
	if err != nil {
		return h.storageError(err, id, "Failed to load conversation")
	}
	return c.JSON(fiber.Map{
		"conversation_id": id,
		"messages":        messages,
	})
}

// DeleteConversation handles DELETE /api/v1/conversations/:id
func (h *TurnHandlers) DeleteConversation(c *fiber.Ctx) error {
	if h.conversations == nil {
		return fiber.NewError(fiber.StatusNotFound, "Conversation storage is disabled")
	}
	ctx := c.UserContext()
	userID := middleware.UserID(c)
	id := c.Params("id")
	if err := authorizeConversation(ctx, h.conversations, h.logger, userID, id, false); err != nil {
		return err
	}
	if err := h.conversations.Clear(ctx, userID, id); err != nil {
		return h.storageError(err, id, "Failed to clear conversation")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *TurnHandlers) storageError(err error, conversationID, message string) error {
	if errors.Is(err, repository.ErrNotOwner) {
		return errConversationNotFound
	}
	h.logger.WithError(err).WithField("conversation_id", conversationID).Error(message)
	return fiber.NewError(fiber.StatusInternalServerError, message)
}

// OwnerLookup reports who created a conversation
type OwnerLookup interface {
	Owner(ctx context.Context, conversationID string) (string, error)
}

var errConversationNotFound = fiber.NewError(fiber.StatusNotFound, "Conversation not found")

// authorizeConversation answers 404 for conversations owned by another user
// and, unless allowNew, for unknown ones. allowNew lets a turn start a
// conversation under a fresh client-chosen ID.
func authorizeConversation(ctx context.Context, owners OwnerLookup, logger logrus.FieldLogger, userID, conversationID string, allowNew bool) error {
	owner, err := owners.Owner(ctx, conversationID)
	switch {
	case errors.Is(err, repository.ErrConversationNotFound):
		if allowNew {
			return nil
		}
		return errConversationNotFound
	case err != nil:
		logger.WithError(err).WithField("conversation_id", conversationID).Error("Failed to look up conversation owner")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load conversation")
	case owner != userID:
		logger.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"user_id":         userID,
		}).Warn("Rejected access to another user's conversation")
		return errConversationNotFound
	}
	return nil
}
