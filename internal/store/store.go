// Package store is the persistence layer. All reads and writes go
// through gorm; callers never see *gorm.DB.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tabletop-backend/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the database handle.
type Store struct {
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func wrap(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Sandbox ---

// CreateSandbox inserts a new sandbox.
func (s *Store) CreateSandbox(ctx context.Context, sb *model.Sandbox) error {
	return s.db.WithContext(ctx).Create(sb).Error
}

// GetSandbox loads a sandbox by id.
func (s *Store) GetSandbox(ctx context.Context, id string) (*model.Sandbox, error) {
	var sb model.Sandbox
	if err := s.db.WithContext(ctx).First(&sb, "id = ?", id).Error; err != nil {
		return nil, wrap(err)
	}
	return &sb, nil
}

// --- User ---

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

// GetUser loads a user by id within a sandbox.
func (s *Store) GetUser(ctx context.Context, sandboxID, userID string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).
		Where("sandbox_id = ? AND id = ?", sandboxID, userID).
		First(&u).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}

// GetUserByName loads a user by display name within a sandbox.
func (s *Store) GetUserByName(ctx context.Context, sandboxID, name string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).
		Where("sandbox_id = ? AND name = ?", sandboxID, name).
		First(&u).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}

// ListUsers returns every user in a sandbox.
func (s *Store) ListUsers(ctx context.Context, sandboxID string) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("sandbox_id = ?", sandboxID).
		Order("created_at ASC").
		Find(&users).Error
	return users, err
}

// UpdateUserName renames a user and rewrites the denormalized sender
// and recipient names on their past messages so history stays
// consistent.
func (s *Store) UpdateUserName(ctx context.Context, sandboxID, userID, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).
			Where("sandbox_id = ? AND id = ?", sandboxID, userID).
			Update("name", name)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Model(&model.ChatMessage{}).
			Where("sandbox_id = ? AND sender_id = ?", sandboxID, userID).
			Update("sender_name", name).Error; err != nil {
			return err
		}
		return tx.Model(&model.ChatMessage{}).
			Where("sandbox_id = ? AND recipient_id = ?", sandboxID, userID).
			Update("recipient_name", name).Error
	})
}

// --- Image ---

// CreateImage inserts an uploaded image record.
func (s *Store) CreateImage(ctx context.Context, img *model.Image) error {
	return s.db.WithContext(ctx).Create(img).Error
}

// ListImages returns a sandbox's images, newest first.
func (s *Store) ListImages(ctx context.Context, sandboxID string) ([]model.Image, error) {
	var images []model.Image
	err := s.db.WithContext(ctx).
		Where("sandbox_id = ?", sandboxID).
		Order("created_at DESC").
		Find(&images).Error
	return images, err
}

// GetActiveImage returns the sandbox's active image, or ErrNotFound
// when none is set.
func (s *Store) GetActiveImage(ctx context.Context, sandboxID string) (*model.Image, error) {
	var img model.Image
	err := s.db.WithContext(ctx).
		Where("sandbox_id = ? AND is_active = ?", sandboxID, true).
		First(&img).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &img, nil
}

// SetActiveImage marks one image active and clears the flag on all
// others in the same transaction, so the sandbox never has two active
// images.
func (s *Store) SetActiveImage(ctx context.Context, sandboxID string, imageID int64) (*model.Image, error) {
	var img model.Image
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sandbox_id = ? AND id = ?", sandboxID, imageID).First(&img).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Image{}).
			Where("sandbox_id = ? AND is_active = ?", sandboxID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Image{}).
			Where("id = ?", img.ID).
			Update("is_active", true).Error; err != nil {
			return err
		}
		img.IsActive = true
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &img, nil
}

// --- Token ---

// CreateToken inserts a new token.
func (s *Store) CreateToken(ctx context.Context, t *model.Token) error {
	return s.db.WithContext(ctx).Create(t).Error
}

// ListTokens returns the tokens placed on an image.
func (s *Store) ListTokens(ctx context.Context, sandboxID string, imageID int64) ([]model.Token, error) {
	var tokens []model.Token
	err := s.db.WithContext(ctx).
		Where("sandbox_id = ? AND image_id = ?", sandboxID, imageID).
		Order("id ASC").
		Find(&tokens).Error
	return tokens, err
}

// UpdateTokenPosition moves a token. Last write wins; there is no
// version check.
func (s *Store) UpdateTokenPosition(ctx context.Context, sandboxID string, tokenID int64, x, y float64) (*model.Token, error) {
	var t model.Token
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sandbox_id = ? AND id = ?", sandboxID, tokenID).First(&t).Error; err != nil {
			return err
		}
		if err := tx.Model(&t).Updates(map[string]any{
			"position_x": x,
			"position_y": y,
		}).Error; err != nil {
			return err
		}
		t.PositionX = x
		t.PositionY = y
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &t, nil
}

// DeleteToken removes a token and returns the deleted record.
func (s *Store) DeleteToken(ctx context.Context, sandboxID string, tokenID int64) (*model.Token, error) {
	var t model.Token
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sandbox_id = ? AND id = ?", sandboxID, tokenID).First(&t).Error; err != nil {
			return err
		}
		return tx.Delete(&t).Error
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &t, nil
}

// --- Chat ---

// CreateMessage persists a chat message.
func (s *Store) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// ListMessagesForViewer returns the messages a viewer is allowed to
/// see, oldest first. The filter mirrors the live fan-out rules:
// public broadcasts, anything the viewer sent or received, and
// GM-directed rolls when the viewer is a GM.
func (s *Store) ListMessagesForViewer(ctx context.Context, sandboxID, viewerID string, viewerRole model.Role, limit int) ([]model.ChatMessage, error) {
	q := s.db.WithContext(ctx).
		Where("sandbox_id = ?", sandboxID)

	visible := s.db.
		Where("recipient_id IS NULL AND visibility = ?", model.VisibilityPublic).
		Or("sender_id = ?", viewerID).
		Or("recipient_id = ?", viewerID)
	if viewerRole == model.RoleGM {
		visible = visible.Or("visibility IN ?", []model.DiceVisibility{model.VisibilityToGM, model.VisibilityBlindToGM})
	}
	q = q.Where(visible)

	var messages []model.ChatMessage
	if limit > 0 {
		// Take the newest N, then flip back to chronological order.
		err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return messages, nil
	}

	err := q.Order("created_at ASC, id ASC").Find(&messages).Error
	return messages, err
}

