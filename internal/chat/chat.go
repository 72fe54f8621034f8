// Package chat routes messages and dice rolls. Channels are not
// stored anywhere; who sees a message is derived from its recipient
// and visibility at fan-out time, and the history query applies the
// same rules.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"tabletop-backend/internal/dice"
	"tabletop-backend/internal/hub"
	"tabletop-backend/internal/model"
)

const rollPrefix = "/r "

var (
	ErrEmptyMessage      = errors.New("message is empty")
	ErrRecipientMismatch = errors.New("recipient id and name must be given together")
	ErrInvalidVisibility = errors.New("invalid dice visibility")
)

// Store is the persistence slice the router needs.
type Store interface {
	CreateMessage(ctx context.Context, m *model.ChatMessage) error
	ListMessagesForViewer(ctx context.Context, sandboxID, viewerID string, viewerRole model.Role, limit int) ([]model.ChatMessage, error)
}

// Broadcaster delivers events to connections.
type Broadcaster interface {
	BroadcastToRoom(roomID, event string, payload any, exclude hub.Conn)
	SendTo(conn hub.Conn, event string, payload any) error
}

// Presence resolves live connections for targeted delivery.
type Presence interface {
	Connection(sandboxID, userID string) hub.Conn
	ResolveGMConnections(sandboxID string) []hub.Conn
}

// Router persists messages and fans them out to the derived audience.
type Router struct {
	store     Store
	transport Broadcaster
	presence  Presence
}

// NewRouter creates a Router.
func NewRouter(st Store, transport Broadcaster, presence Presence) *Router {
	return &Router{store: st, transport: transport, presence: presence}
}

// Sender identifies who is posting.
type Sender struct {
	ID   string
	Name string
	Role model.Role
}

// PostInput is one incoming message. RecipientID nil means the public
// channel. Visibility only applies to dice rolls.
type PostInput struct {
	SandboxID     string
	Sender        Sender
	Message       string
	RecipientID   *string
	RecipientName *string
	Visibility    model.DiceVisibility
}

// Post validates, persists and fans out a message. Validation errors
// reach only the caller; nothing is stored or broadcast for them.
func (r *Router) Post(ctx context.Context, in PostInput) (*model.ChatMessage, error) {
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if (in.RecipientID == nil) != (in.RecipientName == nil) {
		return nil, ErrRecipientMismatch
	}

	if strings.HasPrefix(text, rollPrefix) {
		return r.postRoll(ctx, in, strings.TrimSpace(text[len(rollPrefix):]))
	}
	return r.postText(ctx, in, text)
}

func (r *Router) postText(ctx context.Context, in PostInput, text string) (*model.ChatMessage, error) {
	msg := &model.ChatMessage{
		SandboxID:     in.SandboxID,
		SenderID:      in.Sender.ID,
		SenderName:    in.Sender.Name,
		SenderRole:    in.Sender.Role,
		Message:       text,
		RecipientID:   in.RecipientID,
		RecipientName: in.RecipientName,
		Visibility:    model.VisibilityPublic,
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if msg.RecipientID == nil {
		r.transport.BroadcastToRoom(in.SandboxID, model.EventChatMessage, msg, nil)
		return msg, nil
	}

	// Private message: sender plus recipient, nobody else. An offline
	// recipient still gets it later through history.
	r.sendToUsers(in.SandboxID, msg, in.Sender.ID, *msg.RecipientID)
	return msg, nil
}

func (r *Router) postRoll(ctx context.Context, in PostInput, expr string) (*model.ChatMessage, error) {
	visibility := in.Visibility
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	if !visibility.Valid() {
		return nil, ErrInvalidVisibility
	}

	cmd, err := dice.Parse(expr)
	if err != nil {
		return nil, err
	}
	result := dice.Roll(cmd)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	results := string(resultJSON)

	notation := cmd.Notation()
	display := result.Display(cmd)

	// Visibility decides the audience for a roll; any recipient on the
	// request is ignored.
	msg := &model.ChatMessage{
		SandboxID:   in.SandboxID,
		SenderID:    in.Sender.ID,
		SenderName:  in.Sender.Name,
		SenderRole:  in.Sender.Role,
		Message:     display,
		IsDiceRoll:  true,
		DiceCommand: &notation,
		DiceResults: &results,
		Visibility:  visibility,
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	switch visibility {
	case model.VisibilityPublic:
		r.transport.BroadcastToRoom(in.SandboxID, model.EventChatMessage, msg, nil)

	case model.VisibilityToGM:
		r.sendToConns(r.audienceWithSender(in.SandboxID, in.Sender.ID), msg)

	case model.VisibilityBlindToGM:
		// GMs see the real result. The sender sees only that the roll
		// happened. Everyone else sees nothing.
		senderConn := r.presence.Connection(in.SandboxID, in.Sender.ID)
		for _, conn := range r.presence.ResolveGMConnections(in.SandboxID) {
			if conn == senderConn {
				continue
			}
			r.send(conn, msg)
		}
		if senderConn != nil {
			if Redacted(msg, in.Sender.ID, in.Sender.Role) {
				r.send(senderConn, redact(msg, cmd))
			} else {
				r.send(senderConn, msg)
			}
		}

	case model.VisibilityToSelf:
		if conn := r.presence.Connection(in.SandboxID, in.Sender.ID); conn != nil {
			r.send(conn, msg)
		}
	}

	return msg, nil
}

// History returns what one viewer may see, applying the same blind
// redaction the live path applied.
func (r *Router) History(ctx context.Context, sandboxID, viewerID string, viewerRole model.Role, limit int) ([]model.ChatMessage, error) {
	messages, err := r.store.ListMessagesForViewer(ctx, sandboxID, viewerID, viewerRole, limit)
	if err != nil {
		return nil, err
	}

	for i := range messages {
		if Redacted(&messages[i], viewerID, viewerRole) {
			cmd, perr := dice.Parse(deref(messages[i].DiceCommand))
			if perr != nil {
				// Stored notation should always reparse; fall back to
				// blanking the payload if it does not.
				messages[i].DiceResults = nil
				messages[i].Message = "/r " + deref(messages[i].DiceCommand)
				continue
			}
			messages[i] = *redact(&messages[i], cmd)
		}
	}
	return messages, nil
}

// Redacted reports whether a viewer sees the hidden form of a message:
// blind rolls hide their outcome from the non-GM who rolled them.
func Redacted(m *model.ChatMessage, viewerID string, viewerRole model.Role) bool {
	return m.IsDiceRoll &&
		m.Visibility == model.VisibilityBlindToGM &&
		m.SenderID == viewerID &&
		viewerRole != model.RoleGM
}

// redact copies a roll message with the outcome stripped.
func redact(m *model.ChatMessage, cmd dice.Command) *model.ChatMessage {
	clone := *m
	clone.DiceResults = nil
	clone.Message = dice.Result{}.RedactedDisplay(cmd)
	return &clone
}

func (r *Router) audienceWithSender(sandboxID, senderID string) []hub.Conn {
	conns := r.presence.ResolveGMConnections(sandboxID)
	if senderConn := r.presence.Connection(sandboxID, senderID); senderConn != nil {
		seen := false
		for _, c := range conns {
			if c == senderConn {
				seen = true
				break
			}
		}
		if !seen {
			conns = append(conns, senderConn)
		}
	}
	return conns
}

func (r *Router) sendToUsers(sandboxID string, msg *model.ChatMessage, userIDs ...string) {
	delivered := make(map[hub.Conn]bool)
	for _, id := range userIDs {
		conn := r.presence.Connection(sandboxID, id)
		if conn == nil || delivered[conn] {
			continue
		}
		delivered[conn] = true
		r.send(conn, msg)
	}
}

func (r *Router) sendToConns(conns []hub.Conn, msg *model.ChatMessage) {
	for _, conn := range conns {
		r.send(conn, msg)
	}
}

func (r *Router) send(conn hub.Conn, msg *model.ChatMessage) {
	if err := r.transport.SendTo(conn, model.EventChatMessage, msg); err != nil {
		log.Printf("[Chat] Failed to deliver message %d: %v", msg.ID, err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
