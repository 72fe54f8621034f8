package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop-backend/internal/dice"
	"tabletop-backend/internal/hub"
	"tabletop-backend/internal/model"
)

type fakeConn struct{ id string }

func (c *fakeConn) WriteMessage(int, []byte) error            { return nil }
func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) Close() error                              { return nil }

type fakeStore struct {
	created []model.ChatMessage
	listed  []model.ChatMessage
}

func (f *fakeStore) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	m.ID = int64(len(f.created) + 1)
	f.created = append(f.created, *m)
	return nil
}

func (f *fakeStore) ListMessagesForViewer(ctx context.Context, sandboxID, viewerID string, viewerRole model.Role, limit int) ([]model.ChatMessage, error) {
	out := make([]model.ChatMessage, len(f.listed))
	copy(out, f.listed)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type broadcastCall struct {
	roomID  string
	event   string
	payload any
	exclude hub.Conn
}

type sendCall struct {
	conn    hub.Conn
	payload any
}

type fakeTransport struct {
	broadcasts []broadcastCall
	sends      []sendCall
}

func (f *fakeTransport) BroadcastToRoom(roomID, event string, payload any, exclude hub.Conn) {
	f.broadcasts = append(f.broadcasts, broadcastCall{roomID, event, payload, exclude})
}

func (f *fakeTransport) SendTo(conn hub.Conn, event string, payload any) error {
	f.sends = append(f.sends, sendCall{conn, payload})
	return nil
}

func (f *fakeTransport) sentTo(conn hub.Conn) []sendCall {
	var calls []sendCall
	for _, s := range f.sends {
		if s.conn == conn {
			calls = append(calls, s)
		}
	}
	return calls
}

type fakePresence struct {
	conns map[string]hub.Conn
	gms   []hub.Conn
}

func (f *fakePresence) Connection(sandboxID, userID string) hub.Conn {
	return f.conns[userID]
}

func (f *fakePresence) ResolveGMConnections(sandboxID string) []hub.Conn {
	return f.gms
}

func setup() (*Router, *fakeStore, *fakeTransport, *fakePresence) {
	fs := &fakeStore{}
	ft := &fakeTransport{}
	fp := &fakePresence{conns: map[string]hub.Conn{}}
	return NewRouter(fs, ft, fp), fs, ft, fp
}

func playerSender(id string) Sender {
	return Sender{ID: id, Name: "user-" + id, Role: model.RolePlayer}
}

func strPtr(s string) *string { return &s }

func TestPostPublicMessageBroadcasts(t *testing.T) {
	r, fs, ft, _ := setup()

	msg, err := r.Post(context.Background(), PostInput{
		SandboxID: "sb1",
		Sender:    playerSender("u1"),
		Message:   "hello everyone",
	})
	require.NoError(t, err)
	assert.Nil(t, msg.RecipientID)
	assert.Equal(t, model.VisibilityPublic, msg.Visibility)

	require.Len(t, fs.created, 1)
	require.Len(t, ft.broadcasts, 1)
	assert.Equal(t, model.EventChatMessage, ft.broadcasts[0].event)
	assert.Nil(t, ft.broadcasts[0].exclude, "the sender sees their own message echoed")
}

func TestPostPrivateMessageReachesOnlyPair(t *testing.T) {
	r, fs, ft, fp := setup()

	senderConn := &fakeConn{id: "sender"}
	recipientConn := &fakeConn{id: "recipient"}
	thirdConn := &fakeConn{id: "third"}
	fp.conns["u1"] = senderConn
	fp.conns["u2"] = recipientConn
	fp.conns["u3"] = thirdConn

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:     "sb1",
		Sender:        playerSender("u1"),
		Message:       "psst",
		RecipientID:   strPtr("u2"),
		RecipientName: strPtr("user-u2"),
	})
	require.NoError(t, err)

	require.Len(t, fs.created, 1)
	assert.Empty(t, ft.broadcasts, "private messages never hit the room")
	assert.Len(t, ft.sentTo(senderConn), 1)
	assert.Len(t, ft.sentTo(recipientConn), 1)
	assert.Empty(t, ft.sentTo(thirdConn))
}

func TestPostPrivateMessageOfflineRecipientStillPersists(t *testing.T) {
	r, fs, ft, fp := setup()
	fp.conns["u1"] = &fakeConn{id: "sender"}
	// u2 has no live connection.

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:     "sb1",
		Sender:        playerSender("u1"),
		Message:       "psst",
		RecipientID:   strPtr("u2"),
		RecipientName: strPtr("user-u2"),
	})
	require.NoError(t, err)

	assert.Len(t, fs.created, 1, "history must carry it for the recipient's next load")
	assert.Len(t, ft.sends, 1)
}

func TestPostRecipientPairingValidation(t *testing.T) {
	r, fs, ft, _ := setup()

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:   "sb1",
		Sender:      playerSender("u1"),
		Message:     "hi",
		RecipientID: strPtr("u2"), // name missing
	})
	assert.ErrorIs(t, err, ErrRecipientMismatch)
	assert.Empty(t, fs.created)
	assert.Empty(t, ft.broadcasts)
	assert.Empty(t, ft.sends)
}

func TestPostEmptyMessageRejected(t *testing.T) {
	r, fs, _, _ := setup()

	_, err := r.Post(context.Background(), PostInput{
		SandboxID: "sb1",
		Sender:    playerSender("u1"),
		Message:   "   ",
	})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, fs.created)
}

func TestPostRollInvalidExpressionNothingStored(t *testing.T) {
	r, fs, ft, _ := setup()

	_, err := r.Post(context.Background(), PostInput{
		SandboxID: "sb1",
		Sender:    playerSender("u1"),
		Message:   "/r 2d7",
	})
	assert.ErrorIs(t, err, dice.ErrInvalidSides)
	assert.Empty(t, fs.created, "failed rolls are never persisted")
	assert.Empty(t, ft.broadcasts)
	assert.Empty(t, ft.sends)
}

func TestPostPublicRollBroadcasts(t *testing.T) {
	r, fs, ft, _ := setup()

	msg, err := r.Post(context.Background(), PostInput{
		SandboxID: "sb1",
		Sender:    playerSender("u1"),
		Message:   "/r 2d6+1",
	})
	require.NoError(t, err)
	assert.True(t, msg.IsDiceRoll)
	require.NotNil(t, msg.DiceCommand)
	assert.Equal(t, "2d6 + 1", *msg.DiceCommand)
	require.NotNil(t, msg.DiceResults)

	var res dice.Result
	require.NoError(t, json.Unmarshal([]byte(*msg.DiceResults), &res))
	assert.Len(t, res.Rolls, 2)
	assert.Equal(t, 1, res.Modifier)

	require.Len(t, fs.created, 1)
	require.Len(t, ft.broadcasts, 1)
	assert.Nil(t, ft.broadcasts[0].exclude)
}

func TestPostRollIgnoresRecipient(t *testing.T) {
	r, _, ft, _ := setup()

	msg, err := r.Post(context.Background(), PostInput{
		SandboxID:     "sb1",
		Sender:        playerSender("u1"),
		Message:       "/r 1d20",
		RecipientID:   strPtr("u2"),
		RecipientName: strPtr("user-u2"),
	})
	require.NoError(t, err)

	// Visibility, not addressing, decides a roll's audience.
	assert.Nil(t, msg.RecipientID)
	assert.Nil(t, msg.RecipientName)
	require.Len(t, ft.broadcasts, 1)
}

func TestPostToGMRollReachesGMsAndSender(t *testing.T) {
	r, _, ft, fp := setup()

	gmConn := &fakeConn{id: "gm"}
	senderConn := &fakeConn{id: "sender"}
	otherConn := &fakeConn{id: "other"}
	fp.gms = []hub.Conn{gmConn}
	fp.conns["u1"] = senderConn
	fp.conns["u3"] = otherConn

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:  "sb1",
		Sender:     playerSender("u1"),
		Message:    "/r 1d20",
		Visibility: model.VisibilityToGM,
	})
	require.NoError(t, err)

	assert.Empty(t, ft.broadcasts)
	assert.Len(t, ft.sentTo(gmConn), 1)
	assert.Len(t, ft.sentTo(senderConn), 1)
	assert.Empty(t, ft.sentTo(otherConn))
}

func TestPostToGMRollFromGMNotDuplicated(t *testing.T) {
	r, _, ft, fp := setup()

	gmConn := &fakeConn{id: "gm"}
	fp.gms = []hub.Conn{gmConn}
	fp.conns["g1"] = gmConn

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:  "sb1",
		Sender:     Sender{ID: "g1", Name: "GM", Role: model.RoleGM},
		Message:    "/r 1d20",
		Visibility: model.VisibilityToGM,
	})
	require.NoError(t, err)

	assert.Len(t, ft.sentTo(gmConn), 1, "sender who is also a GM gets one copy")
}

func TestPostBlindRollDualPayloads(t *testing.T) {
	r, fs, ft, fp := setup()

	gmConn := &fakeConn{id: "gm"}
	senderConn := &fakeConn{id: "sender"}
	otherConn := &fakeConn{id: "other"}
	fp.gms = []hub.Conn{gmConn}
	fp.conns["u1"] = senderConn
	fp.conns["u3"] = otherConn

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:  "sb1",
		Sender:     playerSender("u1"),
		Message:    "/r 2d6",
		Visibility: model.VisibilityBlindToGM,
	})
	require.NoError(t, err)

	// The stored record carries the full result for GM history.
	require.Len(t, fs.created, 1)
	require.NotNil(t, fs.created[0].DiceResults)

	gmMsgs := ft.sentTo(gmConn)
	require.Len(t, gmMsgs, 1)
	gmPayload := gmMsgs[0].payload.(*model.ChatMessage)
	assert.NotNil(t, gmPayload.DiceResults, "GM sees the real result")

	senderMsgs := ft.sentTo(senderConn)
	require.Len(t, senderMsgs, 1)
	senderPayload := senderMsgs[0].payload.(*model.ChatMessage)
	assert.Nil(t, senderPayload.DiceResults, "the roller sees no outcome")
	assert.Contains(t, senderPayload.Message, "?")
	assert.NotContains(t, senderPayload.Message, "sum = 1")

	assert.Empty(t, ft.sentTo(otherConn), "everyone else sees nothing")
	assert.Empty(t, ft.broadcasts)
}

func TestPostBlindRollFromGMSeesFullResult(t *testing.T) {
	r, _, ft, fp := setup()

	gmConn := &fakeConn{id: "gm"}
	fp.gms = []hub.Conn{gmConn}
	fp.conns["g1"] = gmConn

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:  "sb1",
		Sender:     Sender{ID: "g1", Name: "GM", Role: model.RoleGM},
		Message:    "/r 2d6",
		Visibility: model.VisibilityBlindToGM,
	})
	require.NoError(t, err)

	msgs := ft.sentTo(gmConn)
	require.Len(t, msgs, 1)
	payload := msgs[0].payload.(*model.ChatMessage)
	assert.NotNil(t, payload.DiceResults, "a GM roller is not blinded by their own roll")
}

func TestPostToSelfRoll(t *testing.T) {
	r, _, ft, fp := setup()

	gmConn := &fakeConn{id: "gm"}
	senderConn := &fakeConn{id: "sender"}
	fp.gms = []hub.Conn{gmConn}
	fp.conns["u1"] = senderConn

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:  "sb1",
		Sender:     playerSender("u1"),
		Message:    "/r 1d6",
		Visibility: model.VisibilityToSelf,
	})
	require.NoError(t, err)

	assert.Len(t, ft.sentTo(senderConn), 1)
	assert.Empty(t, ft.sentTo(gmConn))
	assert.Empty(t, ft.broadcasts)
}

func TestPostRollInvalidVisibility(t *testing.T) {
	r, fs, _, _ := setup()

	_, err := r.Post(context.Background(), PostInput{
		SandboxID:  "sb1",
		Sender:     playerSender("u1"),
		Message:    "/r 1d6",
		Visibility: "whisper",
	})
	assert.ErrorIs(t, err, ErrInvalidVisibility)
	assert.Empty(t, fs.created)
}

func TestHistoryRedactsBlindRollForSender(t *testing.T) {
	r, fs, _, _ := setup()

	results := `{"count":2,"sides":6,"rolls":[3,5],"droppedIndex":null,"modifier":0,"dropModifier":null,"sum":8}`
	fs.listed = []model.ChatMessage{
		{
			ID:          1,
			SandboxID:   "sb1",
			SenderID:    "u1",
			SenderRole:  model.RolePlayer,
			Message:     "/r 2d6\nrolled: 3 + 5\nsum = 8",
			IsDiceRoll:  true,
			DiceCommand: strPtr("2d6"),
			DiceResults: &results,
			Visibility:  model.VisibilityBlindToGM,
		},
	}

	// The non-GM sender reloading history must not learn the outcome.
	messages, err := r.History(context.Background(), "sb1", "u1", model.RolePlayer, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Nil(t, messages[0].DiceResults)
	assert.Equal(t, "/r 2d6\nrolled: ? + ?\nsum = ?", messages[0].Message)

	// A GM viewer gets the stored record untouched.
	messages, err = r.History(context.Background(), "sb1", "g1", model.RoleGM, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.NotNil(t, messages[0].DiceResults)
}

func TestHistoryWithoutLimitReturnsEverything(t *testing.T) {
	r, fs, _, _ := setup()

	for i := 1; i <= 150; i++ {
		fs.listed = append(fs.listed, model.ChatMessage{
			ID:         int64(i),
			SandboxID:  "sb1",
			SenderID:   "u1",
			SenderRole: model.RolePlayer,
			Message:    "hello",
			Visibility: model.VisibilityPublic,
		})
	}

	// limit 0 means no truncation: a reconnecting client restores the
	// full viewer-visible history.
	messages, err := r.History(context.Background(), "sb1", "u1", model.RolePlayer, 0)
	require.NoError(t, err)
	require.Len(t, messages, 150)
	assert.Equal(t, int64(1), messages[0].ID)
	assert.Equal(t, int64(150), messages[149].ID)

	// An explicit limit keeps only the newest messages.
	messages, err = r.History(context.Background(), "sb1", "u1", model.RolePlayer, 50)
	require.NoError(t, err)
	require.Len(t, messages, 50)
	assert.Equal(t, int64(101), messages[0].ID)
}
