package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"tabletop-backend/internal/auth"
	"tabletop-backend/internal/model"
	"tabletop-backend/internal/scene"
	"tabletop-backend/internal/store"
)

// TokenHandler 말(토큰) 핸들러
type TokenHandler struct {
	store *store.Store
	scene *scene.Service
	conns ConnResolver
}

// NewTokenHandler TokenHandler 생성
func NewTokenHandler(st *store.Store, sceneSvc *scene.Service, conns ConnResolver) *TokenHandler {
	return &TokenHandler{store: st, scene: sceneSvc, conns: conns}
}

// CreateTokenRequest 토큰 생성 요청
type CreateTokenRequest struct {
	ImageID   int64   `json:"image_id"`
	Name      string  `json:"name"`
	Color     string  `json:"color"`
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
}

// MoveTokenRequest 토큰 이동 요청
type MoveTokenRequest struct {
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
}

// ListTokens 이미지 위의 토큰 목록 조회
func (h *TokenHandler) ListTokens(c *fiber.Ctx) error {
	sandboxID := c.Params("sandboxId")
	imageID, err := strconv.ParseInt(c.Query("image_id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "image_id query parameter is required",
		})
	}

	tokens, err := h.store.ListTokens(c.Context(), sandboxID, imageID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list tokens",
		})
	}

	return c.JSON(tokens)
}

// CreateToken 토큰 생성
func (h *TokenHandler) CreateToken(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	sandboxID := c.Params("sandboxId")

	var req CreateTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	token := &model.Token{
		SandboxID:       sandboxID,
		ImageID:         req.ImageID,
		Name:            req.Name,
		Color:           req.Color,
		PositionX:       req.PositionX,
		PositionY:       req.PositionY,
		CreatedByUserID: &claims.UserID,
	}

	creator := h.conns.Connection(sandboxID, claims.UserID)
	created, err := h.scene.CreateToken(c.Context(), token, creator)
	if err != nil {
		if errors.Is(err, scene.ErrMissingField) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create token",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// MoveToken 토큰 위치 갱신
func (h *TokenHandler) MoveToken(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	sandboxID := c.Params("sandboxId")
	tokenID, err := strconv.ParseInt(c.Params("tokenId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid token id",
		})
	}

	var req MoveTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	mover := h.conns.Connection(sandboxID, claims.UserID)
	token, err := h.scene.MoveToken(c.Context(), sandboxID, tokenID, req.PositionX, req.PositionY, mover)
	if err != nil {
		if errors.Is(err, scene.ErrTokenNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "token not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to move token",
		})
	}

	return c.JSON(token)
}

// DeleteToken 토큰 삭제
func (h *TokenHandler) DeleteToken(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	sandboxID := c.Params("sandboxId")
	tokenID, err := strconv.ParseInt(c.Params("tokenId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid token id",
		})
	}

	deleter := h.conns.Connection(sandboxID, claims.UserID)
	token, err := h.scene.DeleteToken(c.Context(), sandboxID, tokenID, deleter)
	if err != nil {
		if errors.Is(err, scene.ErrTokenNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "token not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete token",
		})
	}

	return c.JSON(token)
}
