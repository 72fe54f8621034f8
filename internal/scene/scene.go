// Package scene coordinates the shared board: which image is shown
// and where the tokens sit. Every mutation persists first and
// broadcasts only on success.
package scene

import (
	"context"
	"errors"
	"log"

	"tabletop-backend/internal/hub"
	"tabletop-backend/internal/model"
	"tabletop-backend/internal/store"
)

var (
	ErrImageNotFound = errors.New("image not found in this sandbox")
	ErrTokenNotFound = errors.New("token not found in this sandbox")
	ErrMissingField  = errors.New("token requires image id, name and color")
)

// Store is the persistence slice the scene needs.
type Store interface {
	SetActiveImage(ctx context.Context, sandboxID string, imageID int64) (*model.Image, error)
	CreateToken(ctx context.Context, t *model.Token) error
	UpdateTokenPosition(ctx context.Context, sandboxID string, tokenID int64, x, y float64) (*model.Token, error)
	DeleteToken(ctx context.Context, sandboxID string, tokenID int64) (*model.Token, error)
}

// Broadcaster is the fan-out slice the scene needs.
type Broadcaster interface {
	BroadcastToRoom(roomID, event string, payload any, exclude hub.Conn)
}

// Service applies scene mutations.
type Service struct {
	store     Store
	transport Broadcaster
}

// NewService creates a scene Service.
func NewService(st Store, transport Broadcaster) *Service {
	return &Service{store: st, transport: transport}
}

// ActivateImage makes one image the sandbox's active view and tells
// every participant, including the caller, so all screens agree.
func (s *Service) ActivateImage(ctx context.Context, sandboxID string, imageID int64) (*model.Image, error) {
	img, err := s.store.SetActiveImage(ctx, sandboxID, imageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}

	s.transport.BroadcastToRoom(sandboxID, model.EventActiveViewChanged, img, nil)
	log.Printf("[Scene] Sandbox %s switched active image to %d", sandboxID, img.ID)
	return img, nil
}

// CreateToken places a token on an image. The creator already renders
// the token locally, so the broadcast excludes their connection.
func (s *Service) CreateToken(ctx context.Context, t *model.Token, creator hub.Conn) (*model.Token, error) {
	if t.ImageID == 0 || t.Name == "" || t.Color == "" {
		return nil, ErrMissingField
	}

	if err := s.store.CreateToken(ctx, t); err != nil {
		return nil, err
	}

	s.transport.BroadcastToRoom(t.SandboxID, model.EventTokenCreated, t, creator)
	return t, nil
}

// MoveToken updates a token's position. Concurrent moves are not
// merged; whichever write lands last defines the position.
func (s *Service) MoveToken(ctx context.Context, sandboxID string, tokenID int64, x, y float64, mover hub.Conn) (*model.Token, error) {
	t, err := s.store.UpdateTokenPosition(ctx, sandboxID, tokenID, x, y)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	s.transport.BroadcastToRoom(sandboxID, model.EventTokenMoved, t, mover)
	return t, nil
}

// DeleteToken removes a token and notifies everyone but the deleter.
func (s *Service) DeleteToken(ctx context.Context, sandboxID string, tokenID int64, deleter hub.Conn) (*model.Token, error) {
	t, err := s.store.DeleteToken(ctx, sandboxID, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	s.transport.BroadcastToRoom(sandboxID, model.EventTokenDeleted, t, deleter)
	return t, nil
}

// PingPayload is a transient map highlight. Never persisted.
type PingPayload struct {
	UserID string  `json:"userId"`
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color,omitempty"`
}

// Ping relays a map ping to every connection in the sandbox, the
// sender included, so all screens play the same highlight.
func (s *Service) Ping(sandboxID string, p PingPayload) {
	s.transport.BroadcastToRoom(sandboxID, model.EventPing, p, nil)
}
