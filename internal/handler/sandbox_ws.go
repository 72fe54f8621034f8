package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"tabletop-backend/internal/chat"
	"tabletop-backend/internal/hub"
	"tabletop-backend/internal/model"
	"tabletop-backend/internal/registry"
	"tabletop-backend/internal/scene"
)

// SandboxWSHandler 샌드박스 실시간 세션 핸들러
type SandboxWSHandler struct {
	registry *registry.Registry
	scene    *scene.Service
	chat     *chat.Router
	hub      *hub.Hub
}

// NewSandboxWSHandler SandboxWSHandler 생성
func NewSandboxWSHandler(reg *registry.Registry, sceneSvc *scene.Service, chatRouter *chat.Router, h *hub.Hub) *SandboxWSHandler {
	return &SandboxWSHandler{registry: reg, scene: sceneSvc, chat: chatRouter, hub: h}
}

// WSMessage 클라이언트에서 오는 웹소켓 메시지
type WSMessage struct {
	Type    string          `json:"type"` // request-roster, token-moved, ping, chat-message, leave
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TokenMovedPayload 토큰 이동 페이로드
type TokenMovedPayload struct {
	ID        int64   `json:"id"`
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
}

// PingWSPayload 맵 핑 페이로드
type PingWSPayload struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color,omitempty"`
}

// ChatWSPayload 채팅 페이로드
type ChatWSPayload struct {
	Message       string  `json:"message"`
	RecipientID   *string `json:"recipient_id,omitempty"`
	RecipientName *string `json:"recipient_name,omitempty"`
	Visibility    string  `json:"visibility,omitempty"`
}

// HandleWebSocket WebSocket 연결 처리
func (h *SandboxWSHandler) HandleWebSocket(c *websocket.Conn) {
	sandboxID, ok1 := c.Locals("sandboxID").(string)
	userID, ok2 := c.Locals("userID").(string)
	name, ok3 := c.Locals("name").(string)
	role, ok4 := c.Locals("role").(model.Role)

	if !ok1 || !ok2 || !ok3 || !ok4 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"message":"invalid session"}}`))
		c.Close()
		return
	}

	member := registry.Member{UserID: userID, Name: name, Role: role}
	if _, err := h.registry.Join(sandboxID, member, c); err != nil {
		if errors.Is(err, registry.ErrAlreadyConnected) {
			h.writeError(c, "duplicate-login", err.Error())
		} else {
			h.writeError(c, "join-failed", "failed to join sandbox")
		}
		c.Close()
		return
	}

	log.Printf("[WS] User %s joined sandbox %s", userID, sandboxID)

	// 연결 해제 시 정리 (중복 접속으로 교체된 연결은 registry가 무시)
	defer func() {
		h.registry.Leave(c)
		c.Close()
		log.Printf("[WS] User %s left sandbox %s", userID, sandboxID)
	}()

	sender := chat.Sender{ID: userID, Name: name, Role: role}

	// 메시지 수신 루프
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "request-roster":
			h.registry.RequestRoster(c)

		case "token-moved":
			h.handleTokenMoved(c, sandboxID, msg.Payload)

		case "ping":
			h.handlePing(sandboxID, userID, name, msg.Payload)

		case "chat-message":
			h.handleChat(c, sandboxID, sender, msg.Payload)

		case "leave":
			return
		}
	}
}

func (h *SandboxWSHandler) handleTokenMoved(c *websocket.Conn, sandboxID string, payload json.RawMessage) {
	var p TokenMovedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h.scene.MoveToken(ctx, sandboxID, p.ID, p.PositionX, p.PositionY, c); err != nil {
		if errors.Is(err, scene.ErrTokenNotFound) {
			h.writeError(c, "token-not-found", "token not found")
			return
		}
		log.Printf("[WS] Failed to move token %d: %v", p.ID, err)
	}
}

func (h *SandboxWSHandler) handlePing(sandboxID, userID, name string, payload json.RawMessage) {
	var p PingWSPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}

	h.scene.Ping(sandboxID, scene.PingPayload{
		UserID: userID,
		Name:   name,
		X:      p.X,
		Y:      p.Y,
		Color:  p.Color,
	})
}

func (h *SandboxWSHandler) handleChat(c *websocket.Conn, sandboxID string, sender chat.Sender, payload json.RawMessage) {
	var p ChatWSPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.chat.Post(ctx, chat.PostInput{
		SandboxID:     sandboxID,
		Sender:        sender,
		Message:       p.Message,
		RecipientID:   p.RecipientID,
		RecipientName: p.RecipientName,
		Visibility:    model.DiceVisibility(p.Visibility),
	})
	if err != nil {
		// 검증 실패는 보낸 사람에게만 알리고 아무것도 저장하지 않는다
		h.writeError(c, "chat-rejected", err.Error())
	}
}

func (h *SandboxWSHandler) writeError(c *websocket.Conn, code, message string) {
	h.hub.SendTo(c, model.EventError, map[string]string{
		"code":    code,
		"message": message,
	})
}
