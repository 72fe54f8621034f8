package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"tabletop-backend/internal/auth"
	"tabletop-backend/internal/chat"
	"tabletop-backend/internal/dice"
	"tabletop-backend/internal/model"
)

// ChatHandler 채팅 핸들러
type ChatHandler struct {
	router *chat.Router
}

// NewChatHandler ChatHandler 생성
func NewChatHandler(router *chat.Router) *ChatHandler {
	return &ChatHandler{router: router}
}

// PostMessageRequest 메시지 전송 요청
type PostMessageRequest struct {
	Message       string  `json:"message"`
	RecipientID   *string `json:"recipient_id,omitempty"`
	RecipientName *string `json:"recipient_name,omitempty"`
	Visibility    string  `json:"visibility,omitempty"`
}

// GetMessages 조회자 기준으로 필터링된 채팅 이력 조회.
// limit 쿼리가 없으면 전체 이력 반환 (재접속 클라이언트가 라이브 팬아웃과 동일한 뷰를 복원)
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	sandboxID := c.Params("sandboxId")
	limit := c.QueryInt("limit", 0)

	messages, err := h.router.History(c.Context(), sandboxID, claims.UserID, claims.Role, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get messages",
		})
	}

	return c.JSON(messages)
}

// PostMessage 메시지 전송 (일반 채팅 또는 /r 주사위 명령)
func (h *ChatHandler) PostMessage(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	sandboxID := c.Params("sandboxId")

	var req PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	msg, err := h.router.Post(c.Context(), chat.PostInput{
		SandboxID: sandboxID,
		Sender: chat.Sender{
			ID:   claims.UserID,
			Name: claims.Name,
			Role: claims.Role,
		},
		Message:       req.Message,
		RecipientID:   req.RecipientID,
		RecipientName: req.RecipientName,
		Visibility:    model.DiceVisibility(req.Visibility),
	})
	if err != nil {
		if isValidationError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to post message",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}

// isValidationError 호출자 잘못인 에러 구분 (상태만 400, 저장/브로드캐스트 없음)
func isValidationError(err error) bool {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrRecipientMismatch),
		errors.Is(err, chat.ErrInvalidVisibility),
		errors.Is(err, dice.ErrInvalidFormat),
		errors.Is(err, dice.ErrInvalidSides),
		errors.Is(err, dice.ErrCountRange),
		errors.Is(err, dice.ErrDropSingleDie):
		return true
	}
	return false
}
