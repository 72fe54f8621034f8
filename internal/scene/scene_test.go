package scene

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop-backend/internal/hub"
	"tabletop-backend/internal/model"
	"tabletop-backend/internal/store"
)

type fakeConn struct{ id string }

func (c *fakeConn) WriteMessage(int, []byte) error            { return nil }
func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) Close() error                              { return nil }

type broadcastCall struct {
	roomID  string
	event   string
	payload any
	exclude hub.Conn
}

type fakeBroadcaster struct {
	calls []broadcastCall
}

func (f *fakeBroadcaster) BroadcastToRoom(roomID, event string, payload any, exclude hub.Conn) {
	f.calls = append(f.calls, broadcastCall{roomID, event, payload, exclude})
}

// fakeStore returns canned results and records whether it was called.
type fakeStore struct {
	activeImage *model.Image
	token       *model.Token
	err         error

	createCalled bool
}

func (f *fakeStore) SetActiveImage(ctx context.Context, sandboxID string, imageID int64) (*model.Image, error) {
	return f.activeImage, f.err
}

func (f *fakeStore) CreateToken(ctx context.Context, t *model.Token) error {
	f.createCalled = true
	return f.err
}

func (f *fakeStore) UpdateTokenPosition(ctx context.Context, sandboxID string, tokenID int64, x, y float64) (*model.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.token.PositionX = x
	f.token.PositionY = y
	return f.token, nil
}

func (f *fakeStore) DeleteToken(ctx context.Context, sandboxID string, tokenID int64) (*model.Token, error) {
	return f.token, f.err
}

func TestActivateImageBroadcastsToEveryone(t *testing.T) {
	fb := &fakeBroadcaster{}
	fs := &fakeStore{activeImage: &model.Image{ID: 7, SandboxID: "sb1", IsActive: true}}
	svc := NewService(fs, fb)

	img, err := svc.ActivateImage(context.Background(), "sb1", 7)
	require.NoError(t, err)
	assert.True(t, img.IsActive)

	require.Len(t, fb.calls, 1)
	assert.Equal(t, model.EventActiveViewChanged, fb.calls[0].event)
	assert.Nil(t, fb.calls[0].exclude, "the activating GM receives the event too")
}

func TestActivateImageNotFound(t *testing.T) {
	fb := &fakeBroadcaster{}
	fs := &fakeStore{err: store.ErrNotFound}
	svc := NewService(fs, fb)

	_, err := svc.ActivateImage(context.Background(), "sb1", 99)
	assert.ErrorIs(t, err, ErrImageNotFound)
	assert.Empty(t, fb.calls, "no broadcast when persistence fails")
}

func TestCreateTokenValidation(t *testing.T) {
	tests := []struct {
		name  string
		token model.Token
	}{
		{name: "missing image", token: model.Token{SandboxID: "sb1", Name: "orc", Color: "#f00"}},
		{name: "missing name", token: model.Token{SandboxID: "sb1", ImageID: 1, Color: "#f00"}},
		{name: "missing color", token: model.Token{SandboxID: "sb1", ImageID: 1, Name: "orc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBroadcaster{}
			fs := &fakeStore{}
			svc := NewService(fs, fb)

			_, err := svc.CreateToken(context.Background(), &tt.token, nil)
			assert.ErrorIs(t, err, ErrMissingField)
			assert.False(t, fs.createCalled, "invalid token is never persisted")
			assert.Empty(t, fb.calls)
		})
	}
}

func TestCreateTokenExcludesCreator(t *testing.T) {
	fb := &fakeBroadcaster{}
	fs := &fakeStore{}
	svc := NewService(fs, fb)
	creator := &fakeConn{id: "creator"}

	token := &model.Token{SandboxID: "sb1", ImageID: 1, Name: "orc", Color: "#f00", PositionX: 10, PositionY: 20}
	_, err := svc.CreateToken(context.Background(), token, creator)
	require.NoError(t, err)

	require.Len(t, fb.calls, 1)
	assert.Equal(t, model.EventTokenCreated, fb.calls[0].event)
	assert.Equal(t, creator, fb.calls[0].exclude)
}

func TestMoveTokenLastWriteWins(t *testing.T) {
	fb := &fakeBroadcaster{}
	fs := &fakeStore{token: &model.Token{ID: 3, SandboxID: "sb1"}}
	svc := NewService(fs, fb)

	moved, err := svc.MoveToken(context.Background(), "sb1", 3, 42.5, 17.25, nil)
	require.NoError(t, err)
	assert.Equal(t, 42.5, moved.PositionX)
	assert.Equal(t, 17.25, moved.PositionY)

	require.Len(t, fb.calls, 1)
	assert.Equal(t, model.EventTokenMoved, fb.calls[0].event)
}

func TestMoveTokenStoreErrorSuppressesBroadcast(t *testing.T) {
	fb := &fakeBroadcaster{}
	fs := &fakeStore{err: errors.New("db down")}
	svc := NewService(fs, fb)

	_, err := svc.MoveToken(context.Background(), "sb1", 3, 1, 2, nil)
	require.Error(t, err)
	assert.Empty(t, fb.calls)
}

func TestDeleteTokenBroadcasts(t *testing.T) {
	fb := &fakeBroadcaster{}
	fs := &fakeStore{token: &model.Token{ID: 3, SandboxID: "sb1"}}
	svc := NewService(fs, fb)
	deleter := &fakeConn{id: "deleter"}

	deleted, err := svc.DeleteToken(context.Background(), "sb1", 3, deleter)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted.ID)

	require.Len(t, fb.calls, 1)
	assert.Equal(t, model.EventTokenDeleted, fb.calls[0].event)
	assert.Equal(t, deleter, fb.calls[0].exclude)
}

func TestPingIsTransient(t *testing.T) {
	fb := &fakeBroadcaster{}
	fs := &fakeStore{}
	svc := NewService(fs, fb)

	svc.Ping("sb1", PingPayload{UserID: "u1", Name: "Ann", X: 1, Y: 2})

	require.Len(t, fb.calls, 1)
	assert.Equal(t, model.EventPing, fb.calls[0].event)
	assert.False(t, fs.createCalled, "pings never touch the store")
}

func TestPingReachesSenderToo(t *testing.T) {
	fb := &fakeBroadcaster{}
	svc := NewService(&fakeStore{}, fb)

	svc.Ping("sb1", PingPayload{UserID: "u1", Name: "Ann", X: 1, Y: 2})

	require.Len(t, fb.calls, 1)
	assert.Nil(t, fb.calls[0].exclude, "the pinging user sees the highlight as well")
}
