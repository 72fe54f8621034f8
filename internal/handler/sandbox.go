package handler

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"tabletop-backend/internal/auth"
	"tabletop-backend/internal/model"
	"tabletop-backend/internal/store"
)

// SandboxHandler 샌드박스 핸들러
type SandboxHandler struct {
	store      *store.Store
	jwtManager *auth.JWTManager
}

// NewSandboxHandler SandboxHandler 생성
func NewSandboxHandler(st *store.Store, jwtManager *auth.JWTManager) *SandboxHandler {
	return &SandboxHandler{store: st, jwtManager: jwtManager}
}

// CreateSandboxResponse 샌드박스 생성 응답
type CreateSandboxResponse struct {
	SandboxID string `json:"sandbox_id"`
	GMURL     string `json:"gm_url"`
	PlayerURL string `json:"player_url"`
}

// CreateUserRequest 참가자 생성 요청
type CreateUserRequest struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password,omitempty"`
}

// LoginRequest 재접속 로그인 요청
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

// AuthResponse 토큰 발급 응답
type AuthResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// UpdateUserNameRequest 이름 변경 요청
type UpdateUserNameRequest struct {
	Name string `json:"name"`
}

// CreateSandbox 새 샌드박스 생성
func (h *SandboxHandler) CreateSandbox(c *fiber.Ctx) error {
	sb := &model.Sandbox{ID: generateSandboxID()}
	if err := h.store.CreateSandbox(c.Context(), sb); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create sandbox",
		})
	}

	base := c.BaseURL()
	return c.Status(fiber.StatusCreated).JSON(CreateSandboxResponse{
		SandboxID: sb.ID,
		GMURL:     fmt.Sprintf("%s/sandbox/%s?role=gm", base, sb.ID),
		PlayerURL: fmt.Sprintf("%s/sandbox/%s", base, sb.ID),
	})
}

// GetSandbox 샌드박스 조회 (입장 시 필요한 활성 이미지 포함)
func (h *SandboxHandler) GetSandbox(c *fiber.Ctx) error {
	sandboxID := c.Params("sandboxId")

	sb, err := h.store.GetSandbox(c.Context(), sandboxID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "sandbox not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get sandbox",
		})
	}

	var active *model.Image
	if img, err := h.store.GetActiveImage(c.Context(), sandboxID); err == nil {
		active = img
	} else if !errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get active image",
		})
	}

	return c.JSON(fiber.Map{
		"sandbox":      sb,
		"active_image": active,
	})
}

// CreateUser 샌드박스 참가자 생성 (토큰 발급 포함)
func (h *SandboxHandler) CreateUser(c *fiber.Ctx) error {
	sandboxID := c.Params("sandboxId")

	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	role := model.Role(req.Role)
	if req.Role == "" {
		role = model.RolePlayer
	}
	if !role.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "role must be gm or player",
		})
	}

	// 샌드박스 존재 확인
	if _, err := h.store.GetSandbox(c.Context(), sandboxID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "sandbox not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get sandbox",
		})
	}

	// 같은 이름의 참가자가 이미 있으면 거부 (재접속은 로그인 사용)
	if _, err := h.store.GetUserByName(c.Context(), sandboxID, req.Name); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a user with this name already exists",
		})
	}

	user := &model.User{
		ID:        uuid.NewString(),
		SandboxID: sandboxID,
		Name:      req.Name,
		Role:      role,
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to hash password",
			})
		}
		user.PasswordHash = &hash
	}

	if err := h.store.CreateUser(c.Context(), user); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create user",
		})
	}

	token, err := h.jwtManager.GenerateAccessToken(user.ID, sandboxID, user.Name, user.Role)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{Token: token, User: *user})
}

// Login 기존 참가자 재접속 (이름 + 비밀번호)
func (h *SandboxHandler) Login(c *fiber.Ctx) error {
	sandboxID := c.Params("sandboxId")

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	user, err := h.store.GetUserByName(c.Context(), sandboxID, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid name or password",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get user",
		})
	}

	// 비밀번호가 설정된 계정만 검증, 없으면 이름만으로 재접속 허용
	if user.PasswordHash != nil && !auth.CheckPassword(*user.PasswordHash, req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid name or password",
		})
	}

	token, err := h.jwtManager.GenerateAccessToken(user.ID, sandboxID, user.Name, user.Role)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	return c.JSON(AuthResponse{Token: token, User: *user})
}

// ListUsers 샌드박스 참가자 목록 조회
func (h *SandboxHandler) ListUsers(c *fiber.Ctx) error {
	sandboxID := c.Params("sandboxId")

	users, err := h.store.ListUsers(c.Context(), sandboxID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list users",
		})
	}

	return c.JSON(users)
}

// UpdateUserName 참가자 이름 변경 (본인 또는 GM)
func (h *SandboxHandler) UpdateUserName(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	sandboxID := c.Params("sandboxId")
	userID := c.Params("userId")

	if claims.UserID != userID && claims.Role != model.RoleGM {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "only the user or a gm can rename",
		})
	}

	var req UpdateUserNameRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	if err := h.store.UpdateUserName(c.Context(), sandboxID, userID, req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "user not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update user",
		})
	}

	return c.JSON(fiber.Map{"id": userID, "name": req.Name})
}

const sandboxIDChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// generateSandboxID URL에 넣기 좋은 12자리 랜덤 ID 생성
func generateSandboxID() string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = sandboxIDChars[rand.Intn(len(sandboxIDChars))]
	}
	return string(b)
}
